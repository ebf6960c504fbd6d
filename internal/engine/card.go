package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bankcore/internal/domain"
	"bankcore/internal/store"
)

// IssueCard creates a card on an account, charging the network's issuance
// cost from the account into system income, all in one transaction. The
// plaintext verification code is returned exactly once, on success; only
// its hash is stored.
func (e *Engine) IssueCard(ctx context.Context, ownerID, accountID int64, network domain.CardNetwork) (string, error) {
	if !domain.ValidNetwork(network) {
		return "", &ParameterError{Reason: fmt.Sprintf("unknown card network %q", network)}
	}
	if ownerID <= 0 || accountID <= 0 {
		return "", &ParameterError{Reason: "owner and account ids must be positive"}
	}
	cost, ok := e.cfg.CardCosts[network]
	if !ok {
		return "", &ParameterError{Reason: fmt.Sprintf("no issuance cost configured for %q", network)}
	}

	code, err := domain.NewVerificationCode()
	if err != nil {
		return "", fmt.Errorf("issue card: %w", err)
	}
	codeHash, err := domain.HashVerificationCode(code)
	if err != nil {
		return "", fmt.Errorf("issue card: %w", err)
	}

	err = e.withTx(ctx, "issue_card", func(tx pgx.Tx) error {
		person, err := e.ledger.GetPerson(ctx, tx, ownerID)
		if errors.Is(err, store.ErrNotFound) {
			return &RuleError{Reason: fmt.Sprintf("person %d does not exist", ownerID)}
		}
		if err != nil {
			return err
		}
		if person.Status == domain.PersonBlocked {
			return &RuleError{Reason: fmt.Sprintf("person %d is blocked", ownerID)}
		}

		acct, err := e.ledger.GetAccountForUpdate(ctx, tx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return &RuleError{Reason: fmt.Sprintf("account %d does not exist", accountID)}
		}
		if err != nil {
			return err
		}
		if acct.Status == domain.AccountBlocked {
			return &RuleError{Reason: fmt.Sprintf("account %d is blocked", accountID)}
		}
		if acct.OwnerID != ownerID {
			return &RuleError{Reason: fmt.Sprintf("account %d is not owned by person %d", accountID, ownerID)}
		}

		count, err := e.ledger.CountCardsByAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if count >= e.cfg.CardsPerAccount {
			return &RuleError{Reason: fmt.Sprintf(
				"account %d already has %d cards (limit %d)", accountID, count, e.cfg.CardsPerAccount)}
		}

		if acct.Balance.LessThan(cost) {
			return &RuleError{Reason: fmt.Sprintf("insufficient funds on account %d for card issuance", accountID)}
		}

		card := &domain.Card{
			ID:        uuid.New(),
			OwnerID:   ownerID,
			AccountID: accountID,
			Network:   network,
			CodeHash:  codeHash,
			ExpiresAt: time.Now().AddDate(e.cfg.CardValidityYears, 0, 0),
			Status:    domain.CardActive,
		}
		if err := e.ledger.CreateCard(ctx, tx, card); err != nil {
			return err
		}

		if err := e.debit(ctx, tx, accountID, cost); err != nil {
			return err
		}
		if err := e.credit(ctx, tx, domain.SystemIncomeID, cost); err != nil {
			return err
		}
		return e.record(ctx, tx, cost, accountID, domain.SystemIncomeID)
	})
	if err != nil {
		return "", err
	}

	e.logger.Info().
		Int64("owner", ownerID).
		Int64("account", accountID).
		Str("network", string(network)).
		Str("cost", cost.String()).
		Msg("card issued")
	e.publish(ctx, "card_issue", cost, accountID, domain.SystemIncomeID)
	return code, nil
}
