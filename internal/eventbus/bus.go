package eventbus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mjcumming/home-topology/internal/htlog"
	"github.com/mjcumming/home-topology/internal/htmetrics"
)

type entry struct {
	token Token
	sub   Subscription
}

// Bus is a synchronous, in-process publish/subscribe fabric. It is
// not durable and not thread-managed: all calls execute on the caller's
// goroutine, and publish returns only after every matching handler
// (including handlers invoked transitively via re-entrant Publish calls)
// has run to completion.
type Bus struct {
	mu     sync.RWMutex
	subs   []entry
	locMgr LocationManager
}

// New constructs an empty bus with no location manager attached.
func New() *Bus {
	return &Bus{}
}

// SetLocationManager associates the store used to resolve ancestor/
// descendant filters. Without one, hierarchy-aware subscriptions degrade
// to exact-location matching.
func (b *Bus) SetLocationManager(mgr LocationManager) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locMgr = mgr
}

// Subscribe registers a subscription and returns a token usable with
// Unsubscribe. Subscriptions are matched in registration order on every
// subsequent Publish.
func (b *Bus) Subscribe(sub Subscription) Token {
	tok := Token(uuid.NewString())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, entry{token: tok, sub: sub})
	return tok
}

// Unsubscribe deactivates a subscription. It has no effect on a Publish
// fan-out already in progress, which iterates a snapshot taken at its
// start.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subs[:0]
	for _, e := range b.subs {
		if e.token != tok {
			out = append(out, e)
		}
	}
	b.subs = out
}

// Publish synchronously fans the event out to every currently-subscribed
// handler whose filter matches, in registration order. Each handler
// invocation is isolated: a panic or returned error is logged and does not
// abort the remainder of the fan-out, and never propagates to the caller.
// Handlers may call Publish re-entrantly; the nested call completes
// (depth-first) before the outer handler resumes.
func (b *Bus) Publish(ev Event) {
	htmetrics.BusPublishTotal.WithLabelValues(ev.Type).Inc()

	b.mu.RLock()
	snapshot := make([]entry, len(b.subs))
	copy(snapshot, b.subs)
	locMgr := b.locMgr
	b.mu.RUnlock()

	for _, e := range snapshot {
		if !e.sub.matches(ev, locMgr) {
			continue
		}
		b.invoke(e, ev)
	}
}

func (b *Bus) invoke(e entry, ev Event) {
	handlerID := e.sub.ID
	if handlerID == "" {
		handlerID = fmt.Sprintf("sub#%s", e.token)
	}

	defer func() {
		if r := recover(); r != nil {
			herr := &HandlerError{HandlerID: handlerID, EventType: ev.Type, Cause: fmt.Errorf("panic: %v", r)}
			b.reportHandlerFailure(herr)
		}
	}()

	if err := e.sub.Handler(ev); err != nil {
		herr := &HandlerError{HandlerID: handlerID, EventType: ev.Type, Cause: err}
		b.reportHandlerFailure(herr)
		return
	}
	htmetrics.BusHandlerInvocationsTotal.WithLabelValues(ev.Type, "ok").Inc()
}

func (b *Bus) reportHandlerFailure(herr *HandlerError) {
	htmetrics.BusHandlerInvocationsTotal.WithLabelValues(herr.EventType, "error").Inc()
	htmetrics.BusHandlerErrorsTotal.WithLabelValues(herr.HandlerID).Inc()
	htlog.Component("eventbus").Warn().
		Str(htlog.FieldHandlerID, herr.HandlerID).
		Str(htlog.FieldEventType, herr.EventType).
		Msg(herr.Error())
}
