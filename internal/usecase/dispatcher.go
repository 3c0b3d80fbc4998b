package usecase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/karalabe/rabbitfence/internal/telemetry"
)

// Dispatcher filters membership notifications and hands genuine departures
// to the fencer, one at a time and in delivery order.
type Dispatcher struct {
	fence  Fence
	logger log.Logger
}

// NewDispatcher creates a dispatcher feeding departures into the fence.
func NewDispatcher(fence Fence, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Root()
	}
	return &Dispatcher{
		fence:  fence,
		logger: logger,
	}
}

// Dispatch handles a single notification synchronously. Anything other than
// a NodeStateChange/left event is dropped without a trace. Errors from the
// fencer abort only the current event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *entity.ClusterEvent) {
	if ev == nil {
		return
	}
	departure := ev.IsDeparture()
	telemetry.EventsTotal.WithLabelValues(ev.Type, ev.Action, strconv.FormatBool(departure)).Inc()
	if !departure {
		return
	}
	d.logger.Info("Got node that left cluster", "address", ev.Address)
	for i, arg := range ev.Args {
		d.logger.Debug("Event argument", "index", i, "value", fmt.Sprintf("%v", arg))
	}
	if err := d.fence.HandleDeparture(ctx, ev.Address); err != nil {
		d.logger.Error("Failed to handle departed node", "address", ev.Address, "err", err)
	}
}

// Run consumes events until the channel is closed or the context cancelled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan *entity.ClusterEvent) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
