// internal/attestation/issuer.go
package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/kvlock"
	"github.com/devid-org/github-attestation-bot/internal/logging"
	"github.com/devid-org/github-attestation-bot/internal/obyte"
	"github.com/devid-org/github-attestation-bot/internal/texts"
)

// ErrAlreadyPosted signals that the transaction's attestation unit has a
// posted timestamp already. It is a no-op outcome, not a fault, and is never
// surfaced to end users.
var ErrAlreadyPosted = errors.New("already posted")

// attestationAAFee is the value attached to the public index record sent to
// the registry AA; it accumulates there and is withdrawable by the attestor.
const attestationAAFee = 10000

// Store is the slice of the database the issuer needs.
type Store interface {
	EnsureAttestationUnit(transactionID int64) error
	AttestationJob(transactionID int64) (*db.AttestationJob, error)
	MarkAttestationPosted(transactionID int64, unit string) error
	UnpostedAttestations() ([]db.AttestationJob, error)
}

// Ledger is the wallet capability the issuer consumes.
type Ledger interface {
	PostUnit(ctx context.Context, req obyte.PostRequest) (string, error)
	GetBalance(ctx context.Context, address string) (obyte.Balance, error)
}

// Notifier delivers a chat message to a device.
type Notifier interface {
	SendText(deviceAddress, text string)
}

// Alerter reports ledger-write failures to the operator.
type Alerter interface {
	NotifyAdmin(subject, body string)
}

type Config struct {
	AttestorAddress string
	AttestationAA   string
	ExplorerURL     string
	Salt            string
	PostTimestamp   bool
}

// Issuer builds attestation payloads and posts them exactly once per
// transaction.
type Issuer struct {
	store    Store
	ledger   Ledger
	notifier Notifier
	alerter  Alerter
	locks    *kvlock.Manager
	cfg      Config
}

func NewIssuer(store Store, ledger Ledger, notifier Notifier, alerter Alerter, locks *kvlock.Manager, cfg Config) *Issuer {
	return &Issuer{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		alerter:  alerter,
		locks:    locks,
		cfg:      cfg,
	}
}

// Attest makes sure the response row exists and posts the attestation. The
// entry point for both live confirmations and accepted ownership proofs.
func (i *Issuer) Attest(ctx context.Context, transactionID int64) error {
	if err := i.store.EnsureAttestationUnit(transactionID); err != nil {
		return err
	}
	_, err := i.PostAndWrite(ctx, transactionID)
	if errors.Is(err, ErrAlreadyPosted) {
		return nil
	}
	return err
}

// PostAndWrite posts the attestation unit for a transaction and records the
// unit id. Idempotent: a transaction whose posted timestamp is set returns
// ErrAlreadyPosted without any ledger write. Concurrent calls for the same
// transaction serialize on a per-transaction lock; unrelated transactions
// proceed in parallel.
func (i *Issuer) PostAndWrite(ctx context.Context, transactionID int64) (string, error) {
	unlock := i.locks.Lock(fmt.Sprintf("tx-%d", transactionID))
	defer unlock()

	job, err := i.store.AttestationJob(transactionID)
	if err != nil {
		// No matching records for an attestation request is an inconsistency,
		// not a retryable condition.
		return "", fmt.Errorf("attestation requested for unknown transaction %d: %w", transactionID, err)
	}
	if job.AttestationDate != nil {
		return "", ErrAlreadyPosted
	}

	payload, srcProfile, err := BuildPayload(job.UserAddress, job.GithubID, job.GithubUsername, i.cfg.Salt, job.PostPublicly)
	if err != nil {
		return "", err
	}

	unit, err := i.post(ctx, payload, job.PostPublicly)
	if err != nil {
		i.reportPostFailure(ctx, err)
		return "", err
	}

	if err := i.store.MarkAttestationPosted(transactionID, unit); err != nil {
		return "", err
	}

	text := texts.Attested(i.cfg.ExplorerURL, unit)
	if srcProfile != nil {
		blob, err := EncodePrivateProfile(unit, payload, srcProfile)
		if err != nil {
			logging.Error("failed to encode private profile", zap.Error(err))
		} else {
			text += "\n\n" + texts.PrivateProfileHandoff(blob)
		}
	}
	i.notifier.SendText(job.DeviceAddress, text)

	logging.Info("attestation posted",
		zap.Int64("transaction_id", transactionID),
		zap.String("unit", unit),
		zap.Bool("public", job.PostPublicly))
	return unit, nil
}

func (i *Issuer) post(ctx context.Context, payload *Payload, public bool) (string, error) {
	messages := []obyte.Message{
		{App: "attestation", Payload: payload},
	}
	outputs := []obyte.PaymentOutput{
		{Address: i.cfg.AttestorAddress, Amount: 0},
	}

	if public {
		// Plaintext index record so public lookups don't have to parse
		// attestation payloads, plus the fee that accumulates in the AA.
		messages = append(messages, obyte.Message{
			App: "data",
			Payload: map[string]string{
				"address":         payload.Address,
				"github_username": payload.Profile["github_username"],
			},
		})
		outputs = append(outputs, obyte.PaymentOutput{
			Address: i.cfg.AttestationAA,
			Amount:  attestationAAFee,
		})
	}

	if i.cfg.PostTimestamp {
		messages = append(messages, obyte.Message{
			App:     "data_feed",
			Payload: map[string]int64{"timestamp": time.Now().UnixMilli()},
		})
	}

	return i.ledger.PostUnit(ctx, obyte.PostRequest{
		PayingAddresses: []string{i.cfg.AttestorAddress},
		Outputs:         outputs,
		Messages:        messages,
	})
}

func (i *Issuer) reportPostFailure(ctx context.Context, postErr error) {
	body := postErr.Error()
	balance, err := i.ledger.GetBalance(ctx, i.cfg.AttestorAddress)
	if err != nil {
		body += ", balance unknown: " + err.Error()
	} else {
		body += fmt.Sprintf(", balance: stable %d, pending %d", balance.Stable, balance.Pending)
	}
	i.alerter.NotifyAdmin("attestation failed", body)
}

// RetryUnposted resubmits every transaction whose attestation unit has not
// been posted yet. Crash recovery: rows created before a crash still have a
// null posted timestamp and get picked up here.
func (i *Issuer) RetryUnposted(ctx context.Context) {
	jobs, err := i.store.UnpostedAttestations()
	if err != nil {
		logging.Error("failed to list unposted attestations", zap.Error(err))
		return
	}
	for _, job := range jobs {
		logging.Info("retrying attestation", zap.Int64("transaction_id", job.TransactionID))
		if _, err := i.PostAndWrite(ctx, job.TransactionID); err != nil && !errors.Is(err, ErrAlreadyPosted) {
			logging.Error("attestation retry failed",
				zap.Int64("transaction_id", job.TransactionID), zap.Error(err))
		}
	}
}
