// Package proof validates signature-based ownership proofs: a message signed
// by the claimed address replaces paying the attestation fee.
package proof

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/logging"
	"github.com/devid-org/github-attestation-bot/internal/obyte"
)

// replayWindow is how long an accepted proof blocks another one for the same
// (address, identity).
const replayWindow = 24 * time.Hour

var signedMessageRe = regexp.MustCompile(`\(signed-message:(.+?)\)`)

// ExtractEnvelope pulls the base64 signed-message envelope out of free-form
// chat text.
func ExtractEnvelope(text string) (string, bool) {
	match := signedMessageRe.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// Store is the slice of the database the validator needs.
type Store interface {
	RecentSignedProofExists(userAddress, githubUsername string, since time.Time) (bool, error)
	CreateSignatureTransaction(receivingAddress string, proof *db.SignedMessage) (int64, error)
}

// Ledger performs the cryptographic validation of the envelope.
type Ledger interface {
	ValidateSignedMessage(ctx context.Context, message *obyte.SignedMessage) error
}

// Attester posts the attestation for the accepted proof.
type Attester interface {
	Attest(ctx context.Context, transactionID int64) error
}

type Validator struct {
	store    Store
	ledger   Ledger
	attester Attester
}

func NewValidator(store Store, ledger Ledger, attester Attester) *Validator {
	return &Validator{store: store, ledger: ledger, attester: attester}
}

// Handle validates one extracted envelope against the user's claimed address
// and identity. The returned string is the reply to send; it is empty on
// success because the issuer notifies the user once the attestation posts.
func (v *Validator) Handle(ctx context.Context, ra *db.ReceivingAddress, encodedEnvelope string) (string, error) {
	envelopeJSON, err := base64.StdEncoding.DecodeString(encodedEnvelope)
	if err != nil {
		return "The signed message is malformed.", nil
	}

	message, err := obyte.ParseSignedMessage(envelopeJSON)
	if err != nil {
		return "The signed message is malformed.", nil
	}

	if err := v.ledger.ValidateSignedMessage(ctx, message); err != nil {
		return err.Error(), nil
	}

	challenge := ra.GithubUsername + " " + ra.UserAddress
	if message.SignedMessage != challenge {
		return fmt.Sprintf("You signed a wrong message: %s, expected: %s", message.SignedMessage, challenge), nil
	}
	if len(message.Authors) == 0 || message.Authors[0].Address != ra.UserAddress {
		signer := ""
		if len(message.Authors) > 0 {
			signer = message.Authors[0].Address
		}
		return fmt.Sprintf("You signed the message with a wrong address: %s, expected: %s", signer, ra.UserAddress), nil
	}

	recent, err := v.store.RecentSignedProofExists(ra.UserAddress, ra.GithubUsername, time.Now().Add(-replayWindow))
	if err != nil {
		return "", err
	}
	if recent {
		return "You are already attested.", nil
	}

	txID, err := v.store.CreateSignatureTransaction(ra.ReceivingAddress, &db.SignedMessage{
		UserAddress:    ra.UserAddress,
		GithubUsername: ra.GithubUsername,
		SignedMessage:  string(message.Raw()),
	})
	if err != nil {
		return "", err
	}

	logging.Info("ownership proof accepted",
		zap.Int64("transaction_id", txID),
		zap.String("user_address", ra.UserAddress))

	if err := v.attester.Attest(ctx, txID); err != nil {
		// The transaction is recorded; the retry sweep finishes the job.
		logging.Error("attestation failed after proof",
			zap.Int64("transaction_id", txID), zap.Error(err))
	}
	return "", nil
}
