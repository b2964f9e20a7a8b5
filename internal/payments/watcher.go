// internal/payments/watcher.go
package payments

import (
	"context"

	"go.uber.org/zap"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/logging"
	"github.com/devid-org/github-attestation-bot/internal/obyte"
	"github.com/devid-org/github-attestation-bot/internal/texts"
)

// Store is the slice of the database the watcher needs.
type Store interface {
	ReceivingAddressByAddress(receivingAddress string) (*db.ReceivingAddress, error)
	UnitAlreadyHandled(paymentUnit string) (bool, error)
	CreateRejectedPayment(rp *db.RejectedPayment) error
	CreatePaymentTransaction(receivingAddress string, payment *db.AcceptedPayment) (int64, error)
	AcceptedPaymentsByUnits(units []string) ([]db.PaymentInfo, error)
	ConfirmPayment(transactionID int64) (bool, error)
	ClearUserAddress(deviceAddress string) error
}

// Ledger is the wallet capability the watcher consumes.
type Ledger interface {
	UnitAuthors(ctx context.Context, unit string) ([]string, error)
}

// Attester posts the attestation once a payment is confirmed.
type Attester interface {
	Attest(ctx context.Context, transactionID int64) error
}

type Notifier interface {
	SendText(deviceAddress, text string)
}

type WatcherConfig struct {
	AllowProofByPayment       bool
	AcceptUnconfirmedPayments bool
}

// Watcher validates incoming payments to our receiving addresses and turns
// qualifying ones into attestation transactions.
type Watcher struct {
	store    Store
	ledger   Ledger
	attester Attester
	notifier Notifier
	cfg      WatcherConfig
}

func NewWatcher(store Store, ledger Ledger, attester Attester, notifier Notifier, cfg WatcherConfig) *Watcher {
	return &Watcher{
		store:    store,
		ledger:   ledger,
		attester: attester,
		notifier: notifier,
		cfg:      cfg,
	}
}

// HandleNewUnits processes a batch of newly observed outputs. Safe to call
// again with the same units: previously handled payment units are skipped.
func (w *Watcher) HandleNewUnits(ctx context.Context, outputs []obyte.Output) {
	for _, output := range outputs {
		ra, err := w.store.ReceivingAddressByAddress(output.Address)
		if err != nil {
			logging.Error("failed to resolve receiving address", zap.Error(err))
			continue
		}
		if ra == nil {
			continue // not one of ours
		}

		handled, err := w.store.UnitAlreadyHandled(output.Unit)
		if err != nil {
			logging.Error("failed to check payment unit", zap.Error(err))
			continue
		}
		if handled {
			continue
		}

		w.handlePayment(ctx, ra, output)
	}
}

func (w *Watcher) handlePayment(ctx context.Context, ra *db.ReceivingAddress, output obyte.Output) {
	reason, err := w.checkPayment(ctx, ra, output)
	if err != nil {
		// Leave the unit unhandled; the next poll retries it.
		logging.Error("failed to validate payment",
			zap.String("unit", output.Unit), zap.Error(err))
		return
	}
	if reason != "" {
		err := w.store.CreateRejectedPayment(&db.RejectedPayment{
			ReceivingAddress: ra.ReceivingAddress,
			PriceInBytes:     ra.PriceInBytes,
			ReceivedAmount:   output.Amount,
			PaymentUnit:      output.Unit,
			Error:            reason,
		})
		if err != nil {
			logging.Error("failed to record rejected payment", zap.Error(err))
			return
		}
		w.notifier.SendText(ra.DeviceAddress, reason)
		return
	}

	txID, err := w.store.CreatePaymentTransaction(ra.ReceivingAddress, &db.AcceptedPayment{
		PriceInBytes:   ra.PriceInBytes,
		ReceivedAmount: output.Amount,
		PaymentUnit:    output.Unit,
	})
	if err != nil {
		logging.Error("failed to record accepted payment",
			zap.String("unit", output.Unit), zap.Error(err))
		return
	}
	logging.Info("payment accepted",
		zap.Int64("transaction_id", txID),
		zap.String("unit", output.Unit),
		zap.Int64("amount", output.Amount))

	if w.cfg.AcceptUnconfirmedPayments {
		// Fast path: treat the payment as confirmed immediately.
		w.notifier.SendText(ra.DeviceAddress, texts.ReceivedAndAcceptedYourPayment(output.Amount))
		w.HandleStable(ctx, []string{output.Unit})
	} else {
		w.notifier.SendText(ra.DeviceAddress, texts.ReceivedYourPayment(output.Amount))
	}
}

// checkPayment returns the rejection reason, or "" when the payment
// qualifies.
func (w *Watcher) checkPayment(ctx context.Context, ra *db.ReceivingAddress, output obyte.Output) (string, error) {
	if output.Asset != "" {
		return "Received payment in wrong asset", nil
	}
	if output.Amount < ra.PriceInBytes {
		challenge := ra.GithubUsername + " " + ra.UserAddress
		return texts.UnderpaidAmount(output.Amount, ra.PriceInBytes) + "\n\n" +
			texts.PleasePay(ra.ReceivingAddress, ra.PriceInBytes, ra.UserAddress, challenge, w.cfg.AllowProofByPayment), nil
	}

	authors, err := w.ledger.UnitAuthors(ctx, output.Unit)
	if err != nil {
		return "", err
	}
	if len(authors) != 1 {
		// Only a single-signer unit proves control of exactly one address.
		w.resetUserAddress(ra.DeviceAddress)
		return "Received a payment but looks like it was not sent from a single-address wallet. " + texts.SwitchToSingleAddress(), nil
	}
	if authors[0] != ra.UserAddress {
		w.resetUserAddress(ra.DeviceAddress)
		return "Received a payment but it was not sent from the expected address " + ra.UserAddress + ". " + texts.SwitchToSingleAddress(), nil
	}
	return "", nil
}

func (w *Watcher) resetUserAddress(deviceAddress string) {
	if err := w.store.ClearUserAddress(deviceAddress); err != nil {
		logging.Error("failed to clear user address",
			zap.String("device_address", deviceAddress), zap.Error(err))
	}
}

// HandleStable confirms previously accepted payments whose units became
// stable, then invokes the issuer. Confirmation happens exactly once per
// transaction; repeats are no-ops except for the (idempotent) attest call.
func (w *Watcher) HandleStable(ctx context.Context, units []string) {
	rows, err := w.store.AcceptedPaymentsByUnits(units)
	if err != nil {
		logging.Error("failed to read accepted payments", zap.Error(err))
		return
	}

	for _, row := range rows {
		confirmed, err := w.store.ConfirmPayment(row.TransactionID)
		if err != nil {
			logging.Error("failed to confirm payment",
				zap.Int64("transaction_id", row.TransactionID), zap.Error(err))
			continue
		}
		if confirmed && !w.cfg.AcceptUnconfirmedPayments {
			w.notifier.SendText(row.DeviceAddress, texts.PaymentIsConfirmed())
		}
		if err := w.attester.Attest(ctx, row.TransactionID); err != nil {
			logging.Error("attestation failed after confirmation",
				zap.Int64("transaction_id", row.TransactionID), zap.Error(err))
		}
	}
}
