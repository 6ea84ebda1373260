package service

import (
	"context"
	"time"

	"github.com/iliyamo/consult-booking/pkg/logging"
)

const notifyTimeout = 10 * time.Second

type outboxAction struct {
	name string
	fn   func(ctx context.Context) error
}

// outbox collects the side effects of a transaction.  Nothing in it runs
// until flush, which callers invoke only after a successful commit, so a
// rolled-back transaction never invalidates caches or notifies anyone.
// Synchronous actions (cache invalidation) complete before flush returns;
// asynchronous ones (notifications) run in the background on a context
// detached from the request.  Failures are logged and not retried.
type outbox struct {
	logger *logging.Logger
	bg     *Background
	sync   []outboxAction
	async  []outboxAction
}

func newOutbox(d *Deps) *outbox {
	return &outbox{logger: d.Logger, bg: d.Background}
}

func (o *outbox) now(name string, fn func(ctx context.Context) error) {
	o.sync = append(o.sync, outboxAction{name: name, fn: fn})
}

func (o *outbox) later(name string, fn func(ctx context.Context) error) {
	o.async = append(o.async, outboxAction{name: name, fn: fn})
}

func (o *outbox) flush(ctx context.Context) {
	for _, a := range o.sync {
		if err := a.fn(ctx); err != nil {
			o.logger.Warn("post-commit action failed", "action", a.name, "error", err)
		}
	}
	detached := context.WithoutCancel(ctx)
	for _, a := range o.async {
		a := a
		o.bg.Go(func() {
			actx, cancel := context.WithTimeout(detached, notifyTimeout)
			defer cancel()
			if err := a.fn(actx); err != nil {
				o.logger.Warn("post-commit action failed", "action", a.name, "error", err)
			}
		})
	}
	o.sync, o.async = nil, nil
}
