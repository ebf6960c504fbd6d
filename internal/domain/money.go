package domain

import "github.com/shopspring/decimal"

// Money values are fixed-point with two decimal places. Every amount that
// crosses a package boundary goes through Scale first so that arithmetic on
// balances and ledger rows never drifts from what the database stores.

// Scale rounds d to two decimal places, half away from zero.
func Scale(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Commission returns the commission due on amount at the given rate,
// scaled to two decimal places.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return Scale(amount.Mul(rate))
}

// ConcurrencyHash derives the optimistic-concurrency token for a person from
// its current field values. An update whose token no longer matches the row
// has raced with another writer and must be rejected.
func (p *Person) ConcurrencyHash() string {
	return hashFields(
		p.Login,
		p.PasswordHash,
		string(p.Role),
		string(p.Status),
	)
}
