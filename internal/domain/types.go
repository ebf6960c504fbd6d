package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemIncomeID is the sentinel account identity for the bank's own income
// balance. It is not a customer account: payments to or from it carry no
// commission, and it can never be blocked or deleted.
const SystemIncomeID int64 = 0

// AccountStatus represents the status of an account.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBlocked AccountStatus = "blocked"
)

// CardStatus represents the status of a card.
type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardBlocked CardStatus = "blocked"
)

// PersonStatus represents the status of a person.
type PersonStatus string

const (
	PersonActive  PersonStatus = "active"
	PersonBlocked PersonStatus = "blocked"
)

// Role represents the permission tier of a person.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleCustomer   Role = "customer"
)

// CardNetwork represents the payment network a card is issued on.
// Each network has a configured issuance cost.
type CardNetwork string

const (
	NetworkVisa       CardNetwork = "visa"
	NetworkMastercard CardNetwork = "mastercard"
	NetworkAmex       CardNetwork = "amex"
)

// ValidNetwork reports whether n is a known card network.
func ValidNetwork(n CardNetwork) bool {
	switch n {
	case NetworkVisa, NetworkMastercard, NetworkAmex:
		return true
	}
	return false
}

// Account represents a customer money account.
type Account struct {
	ID           int64           `json:"id"`
	OwnerID      int64           `json:"owner_id"`
	Balance      decimal.Decimal `json:"balance"`
	Status       AccountStatus   `json:"status"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// Card represents a payment card linked to an account. The verification
// code is stored only as a bcrypt hash; the plaintext exists exactly once,
// in the return value of card issuance.
type Card struct {
	ID        uuid.UUID   `json:"id"`
	OwnerID   int64       `json:"owner_id"`
	AccountID int64       `json:"account_id"`
	Network   CardNetwork `json:"network"`
	CodeHash  string      `json:"-"`
	ExpiresAt time.Time   `json:"expires_at"`
	Status    CardStatus  `json:"status"`
}

// Person represents a registered user of the bank.
type Person struct {
	ID           int64        `json:"id"`
	Login        string       `json:"login"`
	PasswordHash string       `json:"-"`
	Role         Role         `json:"role"`
	Status       PersonStatus `json:"status"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// Payment is one immutable ledger entry. Rows are append-only: they are
// never updated or deleted, even when the accounts they reference are.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	PayerID    int64           `json:"payer_id"`
	ReceiverID int64           `json:"receiver_id"`
	CreatedAt  time.Time       `json:"created_at"`
}
