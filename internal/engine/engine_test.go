package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
	"bankcore/internal/events"
	"bankcore/internal/pool"
	"bankcore/internal/store"
)

// fakeTx records commit/rollback calls. The embedded pgx.Tx supplies the
// rest of the interface; the engine only ever drives Commit and Rollback
// itself.
type fakeTx struct {
	pgx.Tx
	committed   bool
	rolledBack  bool
	commitErr   error
	rollbackErr error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.rollbackErr != nil {
		return t.rollbackErr
	}
	t.rolledBack = true
	return nil
}

type fakeConn struct {
	tx     *fakeTx
	begins int
	closed bool
}

func (c *fakeConn) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	c.begins++
	return c.tx, nil
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeConn: queries not supported")
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }
func (c *fakeConn) IsClosed() bool                 { return c.closed }
func (c *fakeConn) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

// fakeLedger applies mutations to in-memory state and records every call.
// Rollback semantics are the database's job; tests assert on the recorded
// commit/rollback calls and on which mutations the engine requested.
type fakeLedger struct {
	accounts map[int64]*domain.Account
	persons  map[int64]*domain.Person
	cards    map[int64][]domain.Card
	income   decimal.Decimal
	payments []domain.Payment
	topUpSum decimal.Decimal

	lockedIDs []int64

	failDebit      error
	failCredit     error
	failRecord     error
	failCreateCard error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[int64]*domain.Account{},
		persons:  map[int64]*domain.Person{},
		cards:    map[int64][]domain.Card{},
	}
}

func (l *fakeLedger) GetAccount(ctx context.Context, q store.Querier, id int64) (*domain.Account, error) {
	acct, ok := l.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (l *fakeLedger) GetAccountForUpdate(ctx context.Context, q store.Querier, id int64) (*domain.Account, error) {
	l.lockedIDs = append(l.lockedIDs, id)
	return l.GetAccount(ctx, q, id)
}

func (l *fakeLedger) AddToBalance(ctx context.Context, q store.Querier, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsNegative() && l.failDebit != nil {
		return decimal.Zero, l.failDebit
	}
	if delta.IsPositive() && l.failCredit != nil {
		return decimal.Zero, l.failCredit
	}
	acct, ok := l.accounts[id]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	acct.Balance = acct.Balance.Add(delta)
	return acct.Balance, nil
}

func (l *fakeLedger) AccountsByOwner(ctx context.Context, q store.Querier, ownerID int64) ([]domain.Account, error) {
	var out []domain.Account
	for id := int64(1); id <= 100; id++ {
		if acct, ok := l.accounts[id]; ok && acct.OwnerID == ownerID {
			out = append(out, *acct)
		}
	}
	return out, nil
}

func (l *fakeLedger) DeleteAccount(ctx context.Context, q store.Querier, id int64) error {
	if _, ok := l.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(l.accounts, id)
	return nil
}

func (l *fakeLedger) AccountExists(ctx context.Context, q store.Querier, id int64) (bool, error) {
	_, ok := l.accounts[id]
	return ok, nil
}

func (l *fakeLedger) GetPerson(ctx context.Context, q store.Querier, id int64) (*domain.Person, error) {
	p, ok := l.persons[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) DeletePersonRow(ctx context.Context, q store.Querier, id int64) error {
	if _, ok := l.persons[id]; !ok {
		return store.ErrNotFound
	}
	delete(l.persons, id)
	return nil
}

func (l *fakeLedger) CreateCard(ctx context.Context, q store.Querier, card *domain.Card) error {
	if l.failCreateCard != nil {
		return l.failCreateCard
	}
	l.cards[card.AccountID] = append(l.cards[card.AccountID], *card)
	return nil
}

func (l *fakeLedger) CountCardsByAccount(ctx context.Context, q store.Querier, accountID int64) (int, error) {
	return len(l.cards[accountID]), nil
}

func (l *fakeLedger) DeleteCardsByAccount(ctx context.Context, q store.Querier, accountID int64) (int64, error) {
	n := int64(len(l.cards[accountID]))
	delete(l.cards, accountID)
	return n, nil
}

func (l *fakeLedger) AddToIncome(ctx context.Context, q store.Querier, delta decimal.Decimal) (decimal.Decimal, error) {
	l.income = l.income.Add(delta)
	return l.income, nil
}

func (l *fakeLedger) RecordPayment(ctx context.Context, q store.Querier, p *domain.Payment) error {
	if l.failRecord != nil {
		return l.failRecord
	}
	l.payments = append(l.payments, *p)
	return nil
}

func (l *fakeLedger) SumTopUpsSince(ctx context.Context, q store.Querier, accountID int64, since time.Time) (decimal.Decimal, error) {
	return l.topUpSum, nil
}

type fakePub struct {
	events []events.PaymentEvent
}

func (p *fakePub) PublishPayment(ctx context.Context, ev events.PaymentEvent) {
	p.events = append(p.events, ev)
}

type testRig struct {
	engine *Engine
	ledger *fakeLedger
	conn   *fakeConn
	pub    *fakePub
	dials  *atomic.Int64
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func defaultEngineConfig() Config {
	return Config{
		CommissionRate: dec("0.015"),
		CardCosts: map[domain.CardNetwork]decimal.Decimal{
			domain.NetworkVisa:       dec("4.99"),
			domain.NetworkMastercard: dec("5.99"),
		},
		CardsPerAccount:   2,
		CardValidityYears: 3,
		TopUpLimit:        dec("10000"),
		TopUpWindow:       24 * time.Hour,
	}
}

func newTestRig(t *testing.T, ledger *fakeLedger) *testRig {
	t.Helper()
	conn := &fakeConn{tx: &fakeTx{}}
	var dials atomic.Int64
	dial := func(ctx context.Context) (pool.Conn, error) {
		dials.Add(1)
		return conn, nil
	}
	p, err := pool.New(pool.Config{
		Min: 0, Max: 2, AcquireTimeout: time.Second, IdleTTL: time.Minute,
	}, dial)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	pub := &fakePub{}
	return &testRig{
		engine: New(p, ledger, defaultEngineConfig(), pub),
		ledger: ledger,
		conn:   conn,
		pub:    pub,
		dials:  &dials,
	}
}

func seedAccount(l *fakeLedger, id, ownerID int64, balance string, status domain.AccountStatus) {
	l.accounts[id] = &domain.Account{
		ID: id, OwnerID: ownerID, Balance: dec(balance),
		Status: status, RegisteredAt: time.Now(),
	}
}

func seedPerson(l *fakeLedger, id int64, status domain.PersonStatus) {
	l.persons[id] = &domain.Person{
		ID: id, Login: fmt.Sprintf("user%d", id), Role: domain.RoleCustomer,
		Status: status, RegisteredAt: time.Now(),
	}
}

func TestMakePaymentValidation(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		payer    int64
		receiver int64
	}{
		{"zero amount", "0", 1, 2},
		{"negative amount", "-5", 1, 2},
		{"self transfer", "10", 1, 1},
		{"negative payer id", "10", -1, 2},
		{"negative receiver id", "10", 1, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, newFakeLedger())
			err := rig.engine.MakePayment(context.Background(), dec(tt.amount), tt.payer, tt.receiver)

			var param *ParameterError
			if !errors.As(err, &param) {
				t.Fatalf("err = %v, want ParameterError", err)
			}
			// Validation failures must never touch the pool.
			if n := rig.dials.Load(); n != 0 {
				t.Errorf("dials = %d, want 0", n)
			}
		})
	}
}

func TestMakePaymentCommitsDebitCreditAndLedger(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "50.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	if err := rig.engine.MakePayment(context.Background(), dec("10.00"), 1, 2); err != nil {
		t.Fatalf("MakePayment: %v", err)
	}

	if !rig.conn.tx.committed {
		t.Error("transaction was not committed")
	}
	// commission = 10.00 * 0.015 = 0.15
	if got := ledger.accounts[1].Balance; !got.Equal(dec("89.85")) {
		t.Errorf("payer balance = %s, want 89.85 (amount + commission debited)", got)
	}
	if got := ledger.accounts[2].Balance; !got.Equal(dec("60.00")) {
		t.Errorf("receiver balance = %s, want 60.00", got)
	}
	if !ledger.income.Equal(dec("0.15")) {
		t.Errorf("income = %s, want 0.15", ledger.income)
	}
	if len(ledger.payments) != 2 {
		t.Fatalf("ledger rows = %d, want 2 (payment + commission)", len(ledger.payments))
	}
	if p := ledger.payments[0]; !p.Amount.Equal(dec("10.00")) || p.PayerID != 1 || p.ReceiverID != 2 {
		t.Errorf("payment row = %+v, want 10.00 from 1 to 2", p)
	}
	if p := ledger.payments[1]; !p.Amount.Equal(dec("0.15")) || p.PayerID != 1 || p.ReceiverID != domain.SystemIncomeID {
		t.Errorf("commission row = %+v, want 0.15 from 1 to income", p)
	}
}

func TestMakePaymentLocksAccountsInAscendingOrder(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 7, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 3, 20, "50.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	if err := rig.engine.MakePayment(context.Background(), dec("5"), 7, 3); err != nil {
		t.Fatalf("MakePayment: %v", err)
	}
	if len(ledger.lockedIDs) != 2 || ledger.lockedIDs[0] != 3 || ledger.lockedIDs[1] != 7 {
		t.Errorf("lock order = %v, want [3 7]", ledger.lockedIDs)
	}
}

func TestMakePaymentNoCommissionWithSystemIncome(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	if err := rig.engine.MakePayment(context.Background(), dec("40.00"), 1, domain.SystemIncomeID); err != nil {
		t.Fatalf("MakePayment to income: %v", err)
	}

	if got := ledger.accounts[1].Balance; !got.Equal(dec("60.00")) {
		t.Errorf("payer balance = %s, want 60.00 (no commission)", got)
	}
	if !ledger.income.Equal(dec("40.00")) {
		t.Errorf("income = %s, want 40.00", ledger.income)
	}
	if len(ledger.payments) != 1 {
		t.Errorf("ledger rows = %d, want 1 (no commission row)", len(ledger.payments))
	}
}

func TestMakePaymentBlockedReceiverRollsBack(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "50.00", domain.AccountBlocked)
	rig := newTestRig(t, ledger)

	err := rig.engine.MakePayment(context.Background(), dec("10.00"), 1, 2)

	var rule *RuleError
	if !errors.As(err, &rule) {
		t.Fatalf("err = %v, want RuleError", err)
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Errorf("rule message %q should name the violation", err.Error())
	}
	if !rig.conn.tx.rolledBack || rig.conn.tx.committed {
		t.Error("expected rollback without commit")
	}
	if !ledger.accounts[1].Balance.Equal(dec("100.00")) {
		t.Errorf("payer balance mutated before the rule check: %s", ledger.accounts[1].Balance)
	}
	if len(ledger.payments) != 0 {
		t.Errorf("ledger rows = %d, want 0", len(ledger.payments))
	}
}

func TestMakePaymentInsufficientFunds(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "5.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "0.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	err := rig.engine.MakePayment(context.Background(), dec("5.00"), 1, 2)

	// 5.00 + commission exceeds the 5.00 balance.
	var rule *RuleError
	if !errors.As(err, &rule) {
		t.Fatalf("err = %v, want RuleError", err)
	}
	if !strings.Contains(err.Error(), "insufficient funds") {
		t.Errorf("unexpected rule message %q", err.Error())
	}
	if !rig.conn.tx.rolledBack {
		t.Error("expected rollback")
	}
}

func TestMakePaymentMissingAccount(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	err := rig.engine.MakePayment(context.Background(), dec("10.00"), 1, 99)

	var rule *RuleError
	if !errors.As(err, &rule) {
		t.Fatalf("err = %v, want RuleError for missing account", err)
	}
	if !rig.conn.tx.rolledBack {
		t.Error("expected rollback")
	}
}

func TestMakePaymentFaultAfterDebitRollsBack(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "50.00", domain.AccountActive)
	ledger.failCredit = errors.New("injected fault after debit")
	rig := newTestRig(t, ledger)

	err := rig.engine.MakePayment(context.Background(), dec("10.00"), 1, 2)

	var txErr *TxError
	if !errors.As(err, &txErr) || txErr.Stage != StageExec {
		t.Fatalf("err = %v, want TxError at exec stage", err)
	}
	if !rig.conn.tx.rolledBack || rig.conn.tx.committed {
		t.Error("expected rollback without commit after injected fault")
	}
}

func TestMakePaymentCommitFailure(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "50.00", domain.AccountActive)
	rig := newTestRig(t, ledger)
	rig.conn.tx.commitErr = errors.New("commit refused")

	err := rig.engine.MakePayment(context.Background(), dec("10.00"), 1, 2)

	var txErr *TxError
	if !errors.As(err, &txErr) || txErr.Stage != StageCommit {
		t.Fatalf("err = %v, want TxError at commit stage", err)
	}
	if !rig.conn.tx.rolledBack {
		t.Error("rollback must be attempted after a failed commit")
	}
}

func TestRollbackFailureIsUnrecoverable(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "50.00", domain.AccountBlocked)
	rig := newTestRig(t, ledger)
	rig.conn.tx.rollbackErr = errors.New("rollback refused")

	err := rig.engine.MakePayment(context.Background(), dec("10.00"), 1, 2)

	var txErr *TxError
	if !errors.As(err, &txErr) || txErr.Stage != StageRollback {
		t.Fatalf("err = %v, want TxError at rollback stage", err)
	}
	if !txErr.Unrecoverable() {
		t.Error("rollback failure must be reported unrecoverable")
	}
	// The connection state is unknown: it must be discarded, not recycled.
	if !rig.conn.closed {
		t.Error("connection was recycled after a failed rollback")
	}
}

func TestMakePaymentConnectionUnavailable(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "50.00", domain.AccountActive)

	dial := func(ctx context.Context) (pool.Conn, error) {
		return nil, errors.New("connection refused")
	}
	p, err := pool.New(pool.Config{
		Min: 0, Max: 2, AcquireTimeout: 50 * time.Millisecond, IdleTTL: time.Minute,
	}, dial)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	eng := New(p, ledger, defaultEngineConfig(), nil)

	payErr := eng.MakePayment(context.Background(), dec("10.00"), 1, 2)

	var txErr *TxError
	if !errors.As(payErr, &txErr) || txErr.Stage != StageAcquire {
		t.Fatalf("err = %v, want TxError at acquire stage", payErr)
	}
	if !errors.Is(payErr, pool.ErrConnectionUnavailable) {
		t.Errorf("err chain %v should carry ErrConnectionUnavailable", payErr)
	}
}

func TestMakePaymentPublishesEvent(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	seedAccount(ledger, 2, 20, "50.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	if err := rig.engine.MakePayment(context.Background(), dec("10.00"), 1, 2); err != nil {
		t.Fatalf("MakePayment: %v", err)
	}

	if len(rig.pub.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(rig.pub.events))
	}
	ev := rig.pub.events[0]
	if ev.Kind != "payment" || ev.Amount != "10" && ev.Amount != "10.00" {
		t.Errorf("event = %+v, want payment of 10.00", ev)
	}
}

func TestIssueCardSuccess(t *testing.T) {
	ledger := newFakeLedger()
	seedPerson(ledger, 10, domain.PersonActive)
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	code, err := rig.engine.IssueCard(context.Background(), 10, 1, domain.NetworkVisa)
	if err != nil {
		t.Fatalf("IssueCard: %v", err)
	}
	if len(code) != 4 {
		t.Errorf("verification code %q, want 4 digits", code)
	}
	if !rig.conn.tx.committed {
		t.Error("transaction was not committed")
	}

	cards := ledger.cards[1]
	if len(cards) != 1 {
		t.Fatalf("cards = %d, want 1", len(cards))
	}
	if cards[0].CodeHash == code {
		t.Error("verification code stored in plaintext")
	}
	if !domain.CheckVerificationCode(cards[0].CodeHash, code) {
		t.Error("stored hash does not verify the returned code")
	}
	if got := ledger.accounts[1].Balance; !got.Equal(dec("95.01")) {
		t.Errorf("account balance = %s, want 95.01 after 4.99 issuance cost", got)
	}
	if !ledger.income.Equal(dec("4.99")) {
		t.Errorf("income = %s, want 4.99", ledger.income)
	}
	if len(ledger.payments) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(ledger.payments))
	}
}

func TestIssueCardValidation(t *testing.T) {
	rig := newTestRig(t, newFakeLedger())

	if _, err := rig.engine.IssueCard(context.Background(), 10, 1, "diners"); err == nil {
		t.Error("unknown network accepted")
	} else {
		var param *ParameterError
		if !errors.As(err, &param) {
			t.Errorf("err = %v, want ParameterError", err)
		}
	}
	if _, err := rig.engine.IssueCard(context.Background(), 0, 1, domain.NetworkVisa); err == nil {
		t.Error("zero owner id accepted")
	}
	if n := rig.dials.Load(); n != 0 {
		t.Errorf("dials = %d, want 0 for rejected parameters", n)
	}
}

func TestIssueCardBusinessRules(t *testing.T) {
	tests := []struct {
		name string
		seed func(l *fakeLedger)
		want string
	}{
		{
			name: "missing person",
			seed: func(l *fakeLedger) {
				seedAccount(l, 1, 10, "100.00", domain.AccountActive)
			},
			want: "does not exist",
		},
		{
			name: "blocked person",
			seed: func(l *fakeLedger) {
				seedPerson(l, 10, domain.PersonBlocked)
				seedAccount(l, 1, 10, "100.00", domain.AccountActive)
			},
			want: "blocked",
		},
		{
			name: "blocked account",
			seed: func(l *fakeLedger) {
				seedPerson(l, 10, domain.PersonActive)
				seedAccount(l, 1, 10, "100.00", domain.AccountBlocked)
			},
			want: "blocked",
		},
		{
			name: "foreign account",
			seed: func(l *fakeLedger) {
				seedPerson(l, 10, domain.PersonActive)
				seedAccount(l, 1, 99, "100.00", domain.AccountActive)
			},
			want: "not owned",
		},
		{
			name: "insufficient funds",
			seed: func(l *fakeLedger) {
				seedPerson(l, 10, domain.PersonActive)
				seedAccount(l, 1, 10, "1.00", domain.AccountActive)
			},
			want: "insufficient funds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			tt.seed(ledger)
			rig := newTestRig(t, ledger)

			_, err := rig.engine.IssueCard(context.Background(), 10, 1, domain.NetworkVisa)

			var rule *RuleError
			if !errors.As(err, &rule) {
				t.Fatalf("err = %v, want RuleError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("message %q does not mention %q", err.Error(), tt.want)
			}
			if !rig.conn.tx.rolledBack {
				t.Error("expected rollback")
			}
		})
	}
}

func TestIssueCardLimitEnforced(t *testing.T) {
	ledger := newFakeLedger()
	seedPerson(ledger, 10, domain.PersonActive)
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	rig := newTestRig(t, ledger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := rig.engine.IssueCard(ctx, 10, 1, domain.NetworkVisa); err != nil {
			t.Fatalf("IssueCard %d: %v", i, err)
		}
	}

	_, err := rig.engine.IssueCard(ctx, 10, 1, domain.NetworkVisa)
	var rule *RuleError
	if !errors.As(err, &rule) {
		t.Fatalf("err = %v, want RuleError once the card limit is reached", err)
	}
}

func TestIssueCardFaultAfterCreateRollsBack(t *testing.T) {
	ledger := newFakeLedger()
	seedPerson(ledger, 10, domain.PersonActive)
	seedAccount(ledger, 1, 10, "100.00", domain.AccountActive)
	ledger.failDebit = errors.New("injected fault after card creation")
	rig := newTestRig(t, ledger)

	_, err := rig.engine.IssueCard(context.Background(), 10, 1, domain.NetworkVisa)

	var txErr *TxError
	if !errors.As(err, &txErr) || txErr.Stage != StageExec {
		t.Fatalf("err = %v, want TxError at exec stage", err)
	}
	if !rig.conn.tx.rolledBack || rig.conn.tx.committed {
		t.Error("card creation must not survive the failed transaction")
	}
}

func TestDeleteAccountSettlesBalance(t *testing.T) {
	ledger := newFakeLedger()
	seedPerson(ledger, 10, domain.PersonActive)
	seedAccount(ledger, 1, 10, "75.00", domain.AccountActive)
	ledger.cards[1] = []domain.Card{{AccountID: 1}}
	rig := newTestRig(t, ledger)

	if err := rig.engine.DeleteAccount(context.Background(), 1); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	if !rig.conn.tx.committed {
		t.Error("transaction was not committed")
	}
	if _, ok := ledger.accounts[1]; ok {
		t.Error("account row still present")
	}
	if _, ok := ledger.cards[1]; ok {
		t.Error("cards still present")
	}
	if !ledger.income.Equal(dec("75.00")) {
		t.Errorf("income = %s, want 75.00 (settled balance)", ledger.income)
	}
	if len(ledger.payments) != 1 {
		t.Fatalf("ledger rows = %d, want 1 settlement row", len(ledger.payments))
	}
	if p := ledger.payments[0]; p.PayerID != 1 || p.ReceiverID != domain.SystemIncomeID {
		t.Errorf("settlement row = %+v, want from 1 to income", p)
	}
}

func TestDeleteAccountZeroBalance(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "0.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	if err := rig.engine.DeleteAccount(context.Background(), 1); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if len(ledger.payments) != 0 {
		t.Errorf("ledger rows = %d, want 0 (nothing to settle)", len(ledger.payments))
	}
	if !ledger.income.IsZero() {
		t.Errorf("income = %s, want 0", ledger.income)
	}
}

func TestDeleteAccountMissing(t *testing.T) {
	rig := newTestRig(t, newFakeLedger())

	err := rig.engine.DeleteAccount(context.Background(), 42)
	var rule *RuleError
	if !errors.As(err, &rule) {
		t.Fatalf("err = %v, want RuleError", err)
	}
}

func TestDeletePersonCascadesInOneTransaction(t *testing.T) {
	ledger := newFakeLedger()
	seedPerson(ledger, 10, domain.PersonActive)
	seedAccount(ledger, 1, 10, "30.00", domain.AccountActive)
	seedAccount(ledger, 2, 10, "0.00", domain.AccountActive)
	ledger.cards[1] = []domain.Card{{AccountID: 1}, {AccountID: 1}}
	rig := newTestRig(t, ledger)

	if err := rig.engine.DeletePerson(context.Background(), 10); err != nil {
		t.Fatalf("DeletePerson: %v", err)
	}

	// The whole cascade runs on one borrowed connection in one
	// transaction: settlement never opens a nested one.
	if n := rig.dials.Load(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if rig.conn.begins != 1 {
		t.Errorf("transactions begun = %d, want 1", rig.conn.begins)
	}
	if !rig.conn.tx.committed {
		t.Error("transaction was not committed")
	}

	if _, ok := ledger.persons[10]; ok {
		t.Error("person row still present")
	}
	if len(ledger.accounts) != 0 {
		t.Errorf("accounts remaining = %d, want 0", len(ledger.accounts))
	}
	if !ledger.income.Equal(dec("30.00")) {
		t.Errorf("income = %s, want 30.00 (only the positive balance settles)", ledger.income)
	}
	if len(ledger.payments) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(ledger.payments))
	}
}

func TestDeletePersonMissing(t *testing.T) {
	rig := newTestRig(t, newFakeLedger())

	err := rig.engine.DeletePerson(context.Background(), 42)
	var rule *RuleError
	if !errors.As(err, &rule) {
		t.Fatalf("err = %v, want RuleError", err)
	}
}

func TestTopUpCreditsAccount(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "10.00", domain.AccountActive)
	rig := newTestRig(t, ledger)

	if err := rig.engine.TopUp(context.Background(), 1, dec("25.00")); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	if got := ledger.accounts[1].Balance; !got.Equal(dec("35.00")) {
		t.Errorf("balance = %s, want 35.00", got)
	}
	if len(ledger.payments) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(ledger.payments))
	}
	if p := ledger.payments[0]; p.PayerID != domain.SystemIncomeID || p.ReceiverID != 1 {
		t.Errorf("top-up row = %+v, want from income sentinel to 1", p)
	}
}

func TestTopUpLimitExceeded(t *testing.T) {
	ledger := newFakeLedger()
	seedAccount(ledger, 1, 10, "10.00", domain.AccountActive)
	ledger.topUpSum = dec("9990.00")
	rig := newTestRig(t, ledger)

	err := rig.engine.TopUp(context.Background(), 1, dec("20.00"))

	var rule *RuleError
	if !errors.As(err, &rule) {
		t.Fatalf("err = %v, want RuleError", err)
	}
	if !strings.Contains(err.Error(), "top-up limit") {
		t.Errorf("unexpected rule message %q", err.Error())
	}
	if !rig.conn.tx.rolledBack {
		t.Error("expected rollback")
	}
	if !ledger.accounts[1].Balance.Equal(dec("10.00")) {
		t.Errorf("balance mutated despite exceeded limit: %s", ledger.accounts[1].Balance)
	}
}

func TestTopUpValidation(t *testing.T) {
	rig := newTestRig(t, newFakeLedger())

	var param *ParameterError
	if err := rig.engine.TopUp(context.Background(), 1, dec("0")); !errors.As(err, &param) {
		t.Errorf("zero amount: err = %v, want ParameterError", err)
	}
	if err := rig.engine.TopUp(context.Background(), 0, dec("5")); !errors.As(err, &param) {
		t.Errorf("income sentinel as target: err = %v, want ParameterError", err)
	}
}
