package app

import (
	"context"
	"time"

	"hooklog/internal/dispatch"
	"hooklog/internal/eventbus"
	"hooklog/internal/storage"
	logx "hooklog/pkg/logx"
)

var outcomes = map[string]string{
	dispatch.EventSent:    storage.OutcomeSent,
	dispatch.EventFailed:  storage.OutcomeFailed,
	dispatch.EventAborted: storage.OutcomeAborted,
	dispatch.EventDropped: storage.OutcomeDropped,
}

// deliveryOf converts a dispatch bus event into a journal entry.
func deliveryOf(e eventbus.Event) (storage.Delivery, bool) {
	outcome, ok := outcomes[e.Type]
	if !ok {
		return storage.Delivery{}, false
	}
	ev, ok := e.Data.(dispatch.BatchEvent)
	if !ok {
		return storage.Delivery{}, false
	}
	return storage.Delivery{
		ID:      ev.ID,
		At:      ev.At,
		Outcome: outcome,
		Kind:    ev.Kind,
		Records: ev.Records,
		Chars:   ev.Chars,
		Error:   ev.Error,
	}, true
}

// journal writes dispatch events to store until ctx is done, then drains
// whatever is already buffered.
func journal(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	write := func(e eventbus.Event) {
		d, ok := deliveryOf(e)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := store.AppendDelivery(wctx, d); err != nil {
			log.Warn("journal write failed", logx.String("id", d.ID), logx.Err(err))
		}
	}
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			write(e)
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					write(e)
				default:
					return
				}
			}
		}
	}
}
