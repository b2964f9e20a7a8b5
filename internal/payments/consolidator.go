// internal/payments/consolidator.go
package payments

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devid-org/github-attestation-bot/internal/kvlock"
	"github.com/devid-org/github-attestation-bot/internal/logging"
	"github.com/devid-org/github-attestation-bot/internal/notifications"
	"github.com/devid-org/github-attestation-bot/internal/obyte"
)

// ConsolidatorLedger is the wallet capability the sweep consumes.
type ConsolidatorLedger interface {
	IsCatchingUp(ctx context.Context) (bool, error)
	ListConsolidatableAddresses(ctx context.Context, addresses []string, max int) ([]string, error)
	SendAllFrom(ctx context.Context, payingAddresses []string, toAddress string) (string, error)
	GetBalance(ctx context.Context, address string) (obyte.Balance, error)
}

// AddressLister enumerates our receiving addresses.
type AddressLister interface {
	ListReceivingAddresses() ([]string, error)
}

// Consolidator periodically sweeps confirmed receipts from receiving
// addresses into the attestor address.
type Consolidator struct {
	store             AddressLister
	ledger            ConsolidatorLedger
	alerter           notifications.Alerter
	locks             *kvlock.Manager
	attestorAddress   string
	maxAuthorsPerUnit int
}

func NewConsolidator(store AddressLister, ledger ConsolidatorLedger, alerter notifications.Alerter, locks *kvlock.Manager, attestorAddress string, maxAuthorsPerUnit int) *Consolidator {
	return &Consolidator{
		store:             store,
		ledger:            ledger,
		alerter:           alerter,
		locks:             locks,
		attestorAddress:   attestorAddress,
		maxAuthorsPerUnit: maxAuthorsPerUnit,
	}
}

// Sweep runs one consolidation pass. A named lock prevents overlapping
// sweeps when a pass outlives the tick period; a failed pass leaves the
// funds in place for the next one.
func (c *Consolidator) Sweep(ctx context.Context) {
	unlock := c.locks.Lock("consolidate-funds")
	defer unlock()

	catchingUp, err := c.ledger.IsCatchingUp(ctx)
	if err != nil {
		logging.Error("failed to check sync state", zap.Error(err))
		return
	}
	if catchingUp {
		logging.Debug("skipping consolidation: ledger is catching up")
		return
	}

	addresses, err := c.store.ListReceivingAddresses()
	if err != nil {
		logging.Error("failed to list receiving addresses", zap.Error(err))
		return
	}
	if len(addresses) == 0 {
		return
	}

	candidates, err := c.ledger.ListConsolidatableAddresses(ctx, addresses, c.maxAuthorsPerUnit)
	if err != nil {
		logging.Error("failed to select consolidatable addresses", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	unit, err := c.ledger.SendAllFrom(ctx, candidates, c.attestorAddress)
	if err != nil {
		body := err.Error()
		if balance, balErr := c.ledger.GetBalance(ctx, candidates[0]); balErr == nil {
			body += fmt.Sprintf(", balance: stable %d, pending %d", balance.Stable, balance.Pending)
		}
		c.alerter.NotifyAdmin("failed to move funds", body)
		return
	}

	logging.Info("moved funds to attestor address",
		zap.String("unit", unit),
		zap.Int("addresses", len(candidates)))
}
