// internal/db/models.go
package db

import (
	"time"
)

// ProofType discriminates how a transaction proved control of the address.
const (
	ProofTypePayment   = "payment"
	ProofTypeSignature = "signature"
)

// User is one chat participant, keyed by the opaque device address (the
// Telegram sender id rendered as a string). Created on first contact, never
// deleted.
type User struct {
	DeviceAddress  string  `gorm:"primaryKey"`
	UserAddress    *string // claimed ledger address, nil until supplied
	GithubID       *string
	GithubUsername *string
	// UniqueID binds the GitHub OAuth round trip back to this user.
	UniqueID  string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

// IdentityOption is one selectable identity for a device: the user's own
// account plus, when organization fetching is enabled, each organization the
// account belongs to. Rebound with the "choose <username>" command.
type IdentityOption struct {
	ID             int64 `gorm:"primaryKey"`
	DeviceAddress  string
	GithubID       string
	GithubUsername string
	IsOrganization bool
	CreatedAt      time.Time
}

// ReceivingAddress is issued once per (device, claimed address, identity)
// triple and never reassigned. PostPublicly is nil until the user picks a
// visibility.
type ReceivingAddress struct {
	DeviceAddress    string  `gorm:"uniqueIndex:idx_ra_triple"`
	UserAddress      string  `gorm:"uniqueIndex:idx_ra_triple"`
	GithubID         string  `gorm:"uniqueIndex:idx_ra_triple"`
	GithubUsername   string
	ReceivingAddress string `gorm:"primaryKey"`
	PostPublicly     *bool
	PriceInBytes     int64
	LastPriceDate    time.Time
}

// Transaction is one attestation attempt. Exactly one of AcceptedPayment or
// SignedMessage references it, depending on ProofType.
type Transaction struct {
	ID               int64 `gorm:"primaryKey"`
	ReceivingAddress string
	ProofType        string
	CreatedAt        time.Time
}

type AcceptedPayment struct {
	TransactionID    int64 `gorm:"primaryKey"`
	ReceivingAddress string
	PriceInBytes     int64
	ReceivedAmount   int64
	PaymentUnit      string `gorm:"uniqueIndex"`
	IsConfirmed      bool
	ConfirmationDate *time.Time
	CreatedAt        time.Time
}

// RejectedPayment is an audit record; the error text is what the payer was
// told.
type RejectedPayment struct {
	ID               int64 `gorm:"primaryKey"`
	ReceivingAddress string
	PriceInBytes     int64
	ReceivedAmount   int64
	PaymentUnit      string `gorm:"uniqueIndex"`
	Error            string
	CreatedAt        time.Time
}

// AttestationUnit tracks the ledger write for a transaction. A nil
// AttestationDate means the attestation still needs to be posted; once set it
// is never cleared.
type AttestationUnit struct {
	TransactionID   int64 `gorm:"primaryKey"`
	AttestationUnit *string
	AttestationDate *time.Time
}

// SignedMessage records a validated signature-based ownership proof.
type SignedMessage struct {
	TransactionID  int64 `gorm:"primaryKey"`
	UserAddress    string
	GithubUsername string
	SignedMessage  string // raw signed envelope JSON
	CreatedAt      time.Time
}
