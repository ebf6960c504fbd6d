// Package engine orchestrates every money-moving and cascading-delete
// operation as a single all-or-nothing transaction against one connection
// borrowed from the pool.
//
// All mutation primitives are transaction-agnostic: they take the open
// transaction they run in, so composite operations like person deletion
// settle balances with the same primitives inside their own transaction
// instead of nesting a second one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
	"bankcore/internal/events"
	"bankcore/internal/pool"
	"bankcore/internal/store"
)

// Ledger is the repository surface the engine mutates. Every method runs
// against the Querier the engine supplies, which is always the engine's own
// open transaction.
type Ledger interface {
	GetAccount(ctx context.Context, q store.Querier, id int64) (*domain.Account, error)
	GetAccountForUpdate(ctx context.Context, q store.Querier, id int64) (*domain.Account, error)
	AddToBalance(ctx context.Context, q store.Querier, id int64, delta decimal.Decimal) (decimal.Decimal, error)
	AccountsByOwner(ctx context.Context, q store.Querier, ownerID int64) ([]domain.Account, error)
	DeleteAccount(ctx context.Context, q store.Querier, id int64) error
	AccountExists(ctx context.Context, q store.Querier, id int64) (bool, error)

	GetPerson(ctx context.Context, q store.Querier, id int64) (*domain.Person, error)
	DeletePersonRow(ctx context.Context, q store.Querier, id int64) error

	CreateCard(ctx context.Context, q store.Querier, card *domain.Card) error
	CountCardsByAccount(ctx context.Context, q store.Querier, accountID int64) (int, error)
	DeleteCardsByAccount(ctx context.Context, q store.Querier, accountID int64) (int64, error)

	AddToIncome(ctx context.Context, q store.Querier, delta decimal.Decimal) (decimal.Decimal, error)
	RecordPayment(ctx context.Context, q store.Querier, p *domain.Payment) error
	SumTopUpsSince(ctx context.Context, q store.Querier, accountID int64, since time.Time) (decimal.Decimal, error)
}

// Publisher receives best-effort notifications of committed money
// movements.
type Publisher interface {
	PublishPayment(ctx context.Context, ev events.PaymentEvent)
}

// Config holds the engine's business limits. It is immutable once the
// engine is constructed.
type Config struct {
	// CommissionRate is the fraction skimmed from qualifying payments
	// into system income.
	CommissionRate decimal.Decimal
	// CardCosts maps each network to its issuance cost.
	CardCosts map[domain.CardNetwork]decimal.Decimal
	// CardsPerAccount caps how many cards one account may carry.
	CardsPerAccount int
	// CardValidityYears is how long an issued card stays valid.
	CardValidityYears int
	// TopUpLimit caps the total topped up per account within TopUpWindow.
	TopUpLimit decimal.Decimal
	// TopUpWindow is the sliding window for TopUpLimit.
	TopUpWindow time.Duration
}

// Engine executes the bank's transactional operations.
type Engine struct {
	pool   *pool.Pool
	ledger Ledger
	cfg    Config
	pub    Publisher
	logger zerolog.Logger
}

// New creates an Engine. pub may be nil, in which case no events are
// published.
func New(p *pool.Pool, ledger Ledger, cfg Config, pub Publisher) *Engine {
	return &Engine{
		pool:   p,
		ledger: ledger,
		cfg:    cfg,
		pub:    pub,
		logger: log.With().Str("component", "engine").Logger(),
	}
}

// withTx borrows one connection, runs fn inside a read-committed
// transaction on it, and commits or rolls back before the connection goes
// back to the pool. The connection is released on every exit path.
func (e *Engine) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return &TxError{Op: op, Stage: StageAcquire, Err: err}
	}
	defer conn.Close(ctx)

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return &TxError{Op: op, Stage: StageBegin, Err: err}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			// The only unrecoverable state: the database may hold
			// partial writes and the connection is unusable.
			conn.MarkBroken()
			e.logger.Error().Err(rbErr).Str("op", op).
				AnErr("cause", err).
				Msg("rollback failed, database state unknown")
			return &TxError{Op: op, Stage: StageRollback, Err: rbErr}
		}
		var rule *RuleError
		if errors.As(err, &rule) {
			return err
		}
		return &TxError{Op: op, Stage: StageExec, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			conn.MarkBroken()
			e.logger.Error().Err(rbErr).Str("op", op).
				Msg("rollback after failed commit also failed")
			return &TxError{Op: op, Stage: StageRollback, Err: rbErr}
		}
		return &TxError{Op: op, Stage: StageCommit, Err: err}
	}
	return nil
}

// transfer moves amount from payer to receiver inside the caller's open
// transaction, skimming commission into system income when neither party
// is the income sentinel. Account rows are locked in ascending id order so
// concurrent transfers over the same accounts cannot deadlock.
func (e *Engine) transfer(ctx context.Context, tx pgx.Tx, amount decimal.Decimal, payerID, receiverID int64) error {
	commission := decimal.Zero
	if payerID != domain.SystemIncomeID && receiverID != domain.SystemIncomeID {
		commission = domain.Commission(amount, e.cfg.CommissionRate)
	}

	accounts := make(map[int64]*domain.Account, 2)
	for _, id := range lockOrder(payerID, receiverID) {
		acct, err := e.ledger.GetAccountForUpdate(ctx, tx, id)
		if errors.Is(err, store.ErrNotFound) {
			return &RuleError{Reason: fmt.Sprintf("account %d does not exist", id)}
		}
		if err != nil {
			return err
		}
		accounts[id] = acct
	}

	if payerID != domain.SystemIncomeID {
		if accounts[payerID].Balance.LessThan(amount.Add(commission)) {
			return &RuleError{Reason: fmt.Sprintf("insufficient funds on account %d", payerID)}
		}
	}
	if receiverID != domain.SystemIncomeID {
		if accounts[receiverID].Status == domain.AccountBlocked {
			return &RuleError{Reason: fmt.Sprintf("receiver account %d is blocked", receiverID)}
		}
	}

	if err := e.debit(ctx, tx, payerID, amount.Add(commission)); err != nil {
		return err
	}
	if err := e.credit(ctx, tx, receiverID, amount); err != nil {
		return err
	}
	if err := e.record(ctx, tx, amount, payerID, receiverID); err != nil {
		return err
	}

	if commission.IsPositive() {
		if _, err := e.ledger.AddToIncome(ctx, tx, commission); err != nil {
			return err
		}
		if err := e.record(ctx, tx, commission, payerID, domain.SystemIncomeID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) debit(ctx context.Context, tx pgx.Tx, id int64, amount decimal.Decimal) error {
	if id == domain.SystemIncomeID {
		_, err := e.ledger.AddToIncome(ctx, tx, amount.Neg())
		return err
	}
	_, err := e.ledger.AddToBalance(ctx, tx, id, amount.Neg())
	return err
}

func (e *Engine) credit(ctx context.Context, tx pgx.Tx, id int64, amount decimal.Decimal) error {
	if id == domain.SystemIncomeID {
		_, err := e.ledger.AddToIncome(ctx, tx, amount)
		return err
	}
	_, err := e.ledger.AddToBalance(ctx, tx, id, amount)
	return err
}

func (e *Engine) record(ctx context.Context, tx pgx.Tx, amount decimal.Decimal, payerID, receiverID int64) error {
	return e.ledger.RecordPayment(ctx, tx, &domain.Payment{
		ID:         uuid.New(),
		Amount:     amount,
		PayerID:    payerID,
		ReceiverID: receiverID,
		CreatedAt:  time.Now(),
	})
}

// lockOrder returns the real account ids among the two, ascending. The
// income sentinel is not an account row and needs no lock.
func lockOrder(a, b int64) []int64 {
	var ids []int64
	if a != domain.SystemIncomeID {
		ids = append(ids, a)
	}
	if b != domain.SystemIncomeID {
		ids = append(ids, b)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) publish(ctx context.Context, kind string, amount decimal.Decimal, payerID, receiverID int64) {
	if e.pub == nil {
		return
	}
	e.pub.PublishPayment(ctx, events.PaymentEvent{
		Kind:       kind,
		Amount:     domain.Scale(amount).String(),
		PayerID:    payerID,
		ReceiverID: receiverID,
		At:         time.Now(),
	})
}
