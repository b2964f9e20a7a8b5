// internal/obyte/poller.go
package obyte

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devid-org/github-attestation-bot/internal/logging"
)

// EventHandler consumes ledger activity. Calls may repeat for the same unit
// after a restart; handlers must be idempotent.
type EventHandler interface {
	HandleNewUnits(ctx context.Context, outputs []Output)
	HandleStable(ctx context.Context, units []string)
}

// AddressSource lists the receiving addresses we watch.
type AddressSource interface {
	ListReceivingAddresses() ([]string, error)
}

// Poller pulls ledger events from the wallet sidecar on a fixed period and
// fans them out. The cursor restarts empty on process start, which replays
// recent events; idempotent consumers make that safe.
type Poller struct {
	client   *Client
	source   AddressSource
	handler  EventHandler
	interval time.Duration
	cursor   string
}

func NewPoller(client *Client, source AddressSource, handler EventHandler, interval time.Duration) *Poller {
	return &Poller{
		client:   client,
		source:   source,
		handler:  handler,
		interval: interval,
	}
}

// Run blocks until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	addresses, err := p.source.ListReceivingAddresses()
	if err != nil {
		logging.Error("failed to list receiving addresses", zap.Error(err))
		return
	}
	if len(addresses) == 0 {
		return
	}

	events, err := p.client.GetEvents(ctx, p.cursor, addresses)
	if err != nil {
		logging.Error("failed to poll ledger events", zap.Error(err))
		return
	}

	if len(events.Outputs) > 0 {
		p.handler.HandleNewUnits(ctx, events.Outputs)
	}
	if len(events.StableUnits) > 0 {
		p.handler.HandleStable(ctx, events.StableUnits)
	}
	p.cursor = events.Cursor
}
