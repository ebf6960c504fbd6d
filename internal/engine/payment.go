package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
)

// MakePayment moves amount from the payer account to the receiver account
// atomically. A commission at the configured rate is skimmed from the payer
// into system income unless either party is the income sentinel. On
// success exactly one ledger row is appended, or two when commission was
// charged.
func (e *Engine) MakePayment(ctx context.Context, amount decimal.Decimal, payerID, receiverID int64) error {
	if !amount.IsPositive() {
		return &ParameterError{Reason: fmt.Sprintf("amount %s must be positive", amount)}
	}
	if payerID == receiverID {
		return &ParameterError{Reason: "payer and receiver are the same account"}
	}
	if payerID < 0 || receiverID < 0 {
		return &ParameterError{Reason: "account ids must not be negative"}
	}
	amount = domain.Scale(amount)

	err := e.withTx(ctx, "make_payment", func(tx pgx.Tx) error {
		return e.transfer(ctx, tx, amount, payerID, receiverID)
	})
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("amount", amount.String()).
		Int64("payer", payerID).
		Int64("receiver", receiverID).
		Msg("payment committed")
	e.publish(ctx, "payment", amount, payerID, receiverID)
	return nil
}

// TopUp credits an account from outside the bank, recorded in the ledger as
// a payment from the income sentinel. The configured per-period limit caps
// the total topped up within the sliding window.
func (e *Engine) TopUp(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ParameterError{Reason: fmt.Sprintf("amount %s must be positive", amount)}
	}
	if accountID <= 0 {
		return &ParameterError{Reason: "account id must be positive"}
	}
	amount = domain.Scale(amount)

	err := e.withTx(ctx, "top_up", func(tx pgx.Tx) error {
		since := time.Now().Add(-e.cfg.TopUpWindow)
		recent, err := e.ledger.SumTopUpsSince(ctx, tx, accountID, since)
		if err != nil {
			return err
		}
		if recent.Add(amount).GreaterThan(e.cfg.TopUpLimit) {
			return &RuleError{Reason: fmt.Sprintf(
				"top-up limit %s exceeded for account %d", e.cfg.TopUpLimit, accountID)}
		}
		return e.transfer(ctx, tx, amount, domain.SystemIncomeID, accountID)
	})
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("amount", amount.String()).
		Int64("account", accountID).
		Msg("top-up committed")
	e.publish(ctx, "top_up", amount, domain.SystemIncomeID, accountID)
	return nil
}
