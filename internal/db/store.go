// internal/db/store.go
package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the gorm handle with the queries the core issues. Components
// depend on the narrow slice of it they need.
type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// GetOrCreateUser returns the user for a device address, creating the row
// with a fresh correlation token on first contact.
func (s *Store) GetOrCreateUser(deviceAddress string) (*User, error) {
	var user User
	err := s.db.Where("device_address = ?", deviceAddress).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("error reading user %s: %w", deviceAddress, err)
	}

	user = User{
		DeviceAddress: deviceAddress,
		UniqueID:      uuid.NewString(),
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("error creating user %s: %w", deviceAddress, err)
	}
	return &user, nil
}

func (s *Store) UserByUniqueID(uniqueID string) (*User, error) {
	var user User
	err := s.db.Where("unique_id = ?", uniqueID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading user by unique id: %w", err)
	}
	return &user, nil
}

// SetUserAddress stores a newly claimed address. A changed address
// invalidates any previously linked identity, so both github columns are
// reset in the same statement.
func (s *Store) SetUserAddress(deviceAddress, userAddress string) error {
	return s.db.Model(&User{}).
		Where("device_address = ?", deviceAddress).
		Updates(map[string]interface{}{
			"user_address":    userAddress,
			"github_id":       nil,
			"github_username": nil,
		}).Error
}

// ClearUserAddress forces the user to re-enter an address, used when a
// payment arrives from a wallet that does not match the claimed address.
func (s *Store) ClearUserAddress(deviceAddress string) error {
	return s.db.Model(&User{}).
		Where("device_address = ?", deviceAddress).
		Update("user_address", nil).Error
}

func (s *Store) SetUserIdentity(deviceAddress, githubID, githubUsername string) error {
	return s.db.Model(&User{}).
		Where("device_address = ?", deviceAddress).
		Updates(map[string]interface{}{
			"github_id":       githubID,
			"github_username": githubUsername,
		}).Error
}

// ReplaceIdentityOptions swaps the selectable identities for a device with
// the latest fetch from the identity provider.
func (s *Store) ReplaceIdentityOptions(deviceAddress string, options []IdentityOption) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_address = ?", deviceAddress).Delete(&IdentityOption{}).Error; err != nil {
			return err
		}
		if len(options) == 0 {
			return nil
		}
		return tx.Create(&options).Error
	})
}

func (s *Store) IdentityOptions(deviceAddress string) ([]IdentityOption, error) {
	var options []IdentityOption
	err := s.db.Where("device_address = ?", deviceAddress).Order("id").Find(&options).Error
	if err != nil {
		return nil, fmt.Errorf("error reading identity options: %w", err)
	}
	return options, nil
}

func (s *Store) IdentityOptionByUsername(deviceAddress, githubUsername string) (*IdentityOption, error) {
	var option IdentityOption
	err := s.db.Where("device_address = ? AND lower(github_username) = lower(?)", deviceAddress, githubUsername).
		First(&option).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading identity option: %w", err)
	}
	return &option, nil
}

// FindReceivingAddress returns the receiving address for a (device, claimed
// address, identity) triple, or nil when none was assigned yet.
func (s *Store) FindReceivingAddress(deviceAddress, userAddress, githubID string) (*ReceivingAddress, error) {
	var ra ReceivingAddress
	err := s.db.Where("device_address = ? AND user_address = ? AND github_id = ?",
		deviceAddress, userAddress, githubID).First(&ra).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading receiving address: %w", err)
	}
	return &ra, nil
}

func (s *Store) CreateReceivingAddress(ra *ReceivingAddress) error {
	if err := s.db.Create(ra).Error; err != nil {
		return fmt.Errorf("error creating receiving address: %w", err)
	}
	return nil
}

func (s *Store) SetPostPublicly(deviceAddress, userAddress, githubID string, public bool) error {
	return s.db.Model(&ReceivingAddress{}).
		Where("device_address = ? AND user_address = ? AND github_id = ?", deviceAddress, userAddress, githubID).
		Update("post_publicly", public).Error
}

func (s *Store) ReceivingAddressByAddress(receivingAddress string) (*ReceivingAddress, error) {
	var ra ReceivingAddress
	err := s.db.Where("receiving_address = ?", receivingAddress).First(&ra).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading receiving address %s: %w", receivingAddress, err)
	}
	return &ra, nil
}

func (s *Store) ListReceivingAddresses() ([]string, error) {
	var addresses []string
	err := s.db.Model(&ReceivingAddress{}).Pluck("receiving_address", &addresses).Error
	if err != nil {
		return nil, fmt.Errorf("error listing receiving addresses: %w", err)
	}
	return addresses, nil
}

// UnitAlreadyHandled reports whether a payment unit was previously accepted
// or rejected. The unit poller delivers at least once, so the watcher checks
// this before creating anything.
func (s *Store) UnitAlreadyHandled(paymentUnit string) (bool, error) {
	var count int64
	err := s.db.Model(&AcceptedPayment{}).Where("payment_unit = ?", paymentUnit).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("error checking accepted payments: %w", err)
	}
	if count > 0 {
		return true, nil
	}
	err = s.db.Model(&RejectedPayment{}).Where("payment_unit = ?", paymentUnit).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("error checking rejected payments: %w", err)
	}
	return count > 0, nil
}

func (s *Store) CreateRejectedPayment(rp *RejectedPayment) error {
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(rp).Error; err != nil {
		return fmt.Errorf("error recording rejected payment: %w", err)
	}
	return nil
}

// CreatePaymentTransaction creates the transaction and its accepted payment
// in one database transaction so the foreign-key order always holds.
func (s *Store) CreatePaymentTransaction(receivingAddress string, payment *AcceptedPayment) (int64, error) {
	var txID int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		t := Transaction{ReceivingAddress: receivingAddress, ProofType: ProofTypePayment}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		payment.TransactionID = t.ID
		payment.ReceivingAddress = receivingAddress
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		txID = t.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error creating payment transaction: %w", err)
	}
	return txID, nil
}

func (s *Store) CreateSignatureTransaction(receivingAddress string, proof *SignedMessage) (int64, error) {
	var txID int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		t := Transaction{ReceivingAddress: receivingAddress, ProofType: ProofTypeSignature}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		proof.TransactionID = t.ID
		if err := tx.Create(proof).Error; err != nil {
			return err
		}
		txID = t.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error creating signature transaction: %w", err)
	}
	return txID, nil
}

// PaymentInfo is an accepted payment joined with its receiving address row.
type PaymentInfo struct {
	TransactionID  int64
	PaymentUnit    string
	ReceivedAmount int64
	DeviceAddress  string
	UserAddress    string
	GithubID       string
	GithubUsername string
	IsConfirmed    bool
}

func (s *Store) AcceptedPaymentsByUnits(units []string) ([]PaymentInfo, error) {
	var rows []PaymentInfo
	err := s.db.Model(&AcceptedPayment{}).
		Select(`accepted_payments.transaction_id, accepted_payments.payment_unit,
			accepted_payments.received_amount, accepted_payments.is_confirmed,
			receiving_addresses.device_address, receiving_addresses.user_address,
			receiving_addresses.github_id, receiving_addresses.github_username`).
		Joins("JOIN receiving_addresses ON receiving_addresses.receiving_address = accepted_payments.receiving_address").
		Where("accepted_payments.payment_unit IN ?", units).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error reading accepted payments: %w", err)
	}
	return rows, nil
}

// ConfirmPayment flips the confirmation flag exactly once. The second return
// is false when the payment was already confirmed.
func (s *Store) ConfirmPayment(transactionID int64) (bool, error) {
	now := time.Now().UTC()
	res := s.db.Model(&AcceptedPayment{}).
		Where("transaction_id = ? AND is_confirmed = false", transactionID).
		Updates(map[string]interface{}{
			"is_confirmed":      true,
			"confirmation_date": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("error confirming payment %d: %w", transactionID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// EnsureAttestationUnit creates the response row for a transaction if it does
// not exist yet. Safe to call repeatedly.
func (s *Store) EnsureAttestationUnit(transactionID int64) error {
	au := AttestationUnit{TransactionID: transactionID}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&au).Error; err != nil {
		return fmt.Errorf("error ensuring attestation unit row: %w", err)
	}
	return nil
}

// AttestationJob is everything the issuer needs to build and post one
// attestation.
type AttestationJob struct {
	TransactionID   int64
	DeviceAddress   string
	UserAddress     string
	GithubID        string
	GithubUsername  string
	PostPublicly    bool
	AttestationUnit *string
	AttestationDate *time.Time
}

const attestationJobSelect = `transactions.id AS transaction_id,
	receiving_addresses.device_address, receiving_addresses.user_address,
	receiving_addresses.github_id, receiving_addresses.github_username,
	COALESCE(receiving_addresses.post_publicly, false) AS post_publicly,
	attestation_units.attestation_unit, attestation_units.attestation_date`

func (s *Store) AttestationJob(transactionID int64) (*AttestationJob, error) {
	var job AttestationJob
	res := s.db.Model(&Transaction{}).
		Select(attestationJobSelect).
		Joins("JOIN receiving_addresses ON receiving_addresses.receiving_address = transactions.receiving_address").
		Joins("JOIN attestation_units ON attestation_units.transaction_id = transactions.id").
		Where("transactions.id = ?", transactionID).
		Scan(&job)
	if res.Error != nil {
		return nil, fmt.Errorf("error reading attestation job %d: %w", transactionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("no attestation job for transaction %d", transactionID)
	}
	return &job, nil
}

// UnpostedAttestations returns every transaction whose attestation unit has
// not been posted yet; the retry sweep feeds them back into the issuer.
func (s *Store) UnpostedAttestations() ([]AttestationJob, error) {
	var jobs []AttestationJob
	err := s.db.Model(&Transaction{}).
		Select(attestationJobSelect).
		Joins("JOIN receiving_addresses ON receiving_addresses.receiving_address = transactions.receiving_address").
		Joins("JOIN attestation_units ON attestation_units.transaction_id = transactions.id").
		Where("attestation_units.attestation_unit IS NULL").
		Scan(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("error listing unposted attestations: %w", err)
	}
	return jobs, nil
}

// MarkAttestationPosted records the posted unit. Posting is terminal: the
// update only applies while the date is still null, so a lost race is a
// no-op.
func (s *Store) MarkAttestationPosted(transactionID int64, unit string) error {
	now := time.Now().UTC()
	res := s.db.Model(&AttestationUnit{}).
		Where("transaction_id = ? AND attestation_date IS NULL", transactionID).
		Updates(map[string]interface{}{
			"attestation_unit": unit,
			"attestation_date": now,
		})
	if res.Error != nil {
		return fmt.Errorf("error marking attestation %d posted: %w", transactionID, res.Error)
	}
	return nil
}

func (s *Store) RecentSignedProofExists(userAddress, githubUsername string, since time.Time) (bool, error) {
	var count int64
	err := s.db.Model(&SignedMessage{}).
		Where("user_address = ? AND github_username = ? AND created_at > ?", userAddress, githubUsername, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("error checking signed messages: %w", err)
	}
	return count > 0, nil
}

// PaymentStatus is the latest payment-backed transaction of a receiving
// address, used by the conversation flow to decide what to say.
type PaymentStatus struct {
	TransactionID   int64
	IsConfirmed     bool
	ReceivedAmount  int64
	AttestationDate *time.Time
}

func (s *Store) LatestPaymentStatus(receivingAddress string) (*PaymentStatus, error) {
	var status PaymentStatus
	res := s.db.Model(&AcceptedPayment{}).
		Select(`accepted_payments.transaction_id, accepted_payments.is_confirmed,
			accepted_payments.received_amount, attestation_units.attestation_date`).
		Joins("LEFT JOIN attestation_units ON attestation_units.transaction_id = accepted_payments.transaction_id").
		Where("accepted_payments.receiving_address = ?", receivingAddress).
		Order("accepted_payments.transaction_id DESC").
		Limit(1).
		Scan(&status)
	if res.Error != nil {
		return nil, fmt.Errorf("error reading payment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &status, nil
}

// PublicAttestation is one row of the public index page.
type PublicAttestation struct {
	UserAddress     string
	GithubUsername  string
	AttestationUnit string
	AttestationDate time.Time
}

func (s *Store) PublicAttestations(limit int) ([]PublicAttestation, error) {
	var rows []PublicAttestation
	err := s.db.Model(&ReceivingAddress{}).
		Select(`receiving_addresses.user_address, receiving_addresses.github_username,
			attestation_units.attestation_unit, attestation_units.attestation_date`).
		Joins("JOIN transactions ON transactions.receiving_address = receiving_addresses.receiving_address").
		Joins("JOIN attestation_units ON attestation_units.transaction_id = transactions.id").
		Where("receiving_addresses.post_publicly = true AND attestation_units.attestation_unit IS NOT NULL").
		Order("attestation_units.attestation_date DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error listing public attestations: %w", err)
	}
	return rows, nil
}
