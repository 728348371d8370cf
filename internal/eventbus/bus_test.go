package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeLocationManager struct {
	ancestors map[string]map[string]bool // id -> set of ancestor ids
}

func (f *fakeLocationManager) IsAncestor(candidateAncestor, id string) bool {
	return f.ancestors[id][candidateAncestor]
}

func TestPublish_InvokesOnlyActiveMatchingSubscriptions(t *testing.T) {
	b := New()
	var calls []string

	tok := b.Subscribe(Subscription{EventType: "a", Handler: func(ev Event) error {
		calls = append(calls, "sub1:"+ev.Type)
		return nil
	}})
	b.Subscribe(Subscription{EventType: "b", Handler: func(ev Event) error {
		calls = append(calls, "sub2:"+ev.Type)
		return nil
	}})

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	b.Unsubscribe(tok)
	b.Publish(Event{Type: "a"})

	assert.Equal(t, []string{"sub1:a", "sub2:b"}, calls)
}

func TestPublish_HandlerErrorDoesNotReduceOtherInvocations(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe(Subscription{Handler: func(ev Event) error {
		order = append(order, "h1")
		return errors.New("boom")
	}, ID: "h1"})
	b.Subscribe(Subscription{Handler: func(ev Event) error {
		order = append(order, "h2")
		return nil
	}, ID: "h2"})
	b.Subscribe(Subscription{Handler: func(ev Event) error {
		panic("also boom")
	}, ID: "h3"})
	b.Subscribe(Subscription{Handler: func(ev Event) error {
		order = append(order, "h4")
		return nil
	}, ID: "h4"})

	assert.NotPanics(t, func() { b.Publish(Event{Type: "x"}) })
	assert.Equal(t, []string{"h1", "h2", "h4"}, order)
}

func TestPublish_RegistrationOrder(t *testing.T) {
	b := New()
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		n := name
		b.Subscribe(Subscription{Handler: func(Event) error {
			order = append(order, n)
			return nil
		}})
	}
	b.Publish(Event{Type: "x"})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublish_NestedPublishCompletesBeforeOuterResumes(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe(Subscription{EventType: "outer", Handler: func(ev Event) error {
		order = append(order, "outer-start")
		b.Publish(Event{Type: "inner"})
		order = append(order, "outer-end")
		return nil
	}})
	b.Subscribe(Subscription{EventType: "inner", Handler: func(ev Event) error {
		order = append(order, "inner")
		return nil
	}})

	b.Publish(Event{Type: "outer"})
	assert.Equal(t, []string{"outer-start", "inner", "outer-end"}, order)
}

func TestSubscription_LocationFilterRequiresExactOrHierarchyMatch(t *testing.T) {
	b := New()
	lm := &fakeLocationManager{ancestors: map[string]map[string]bool{
		"kitchen": {"main_floor": true, "house": true},
	}}
	b.SetLocationManager(lm)

	var got []string
	b.Subscribe(Subscription{
		LocationID:       "main_floor",
		IncludeDescendants: true,
		Handler: func(ev Event) error {
			got = append(got, ev.LocationID)
			return nil
		},
	})

	b.Publish(Event{Type: "x", LocationID: "kitchen"})
	b.Publish(Event{Type: "x", LocationID: "garage"})
	b.Publish(Event{Type: "x"}) // no location at all: must not match an anchored sub

	assert.Equal(t, []string{"kitchen"}, got)
}

func TestSubscription_NoLocationManager_DegradesToExactMatch(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(Subscription{
		LocationID:       "main_floor",
		IncludeDescendants: true,
		Handler: func(ev Event) error {
			got = append(got, ev.LocationID)
			return nil
		},
	})

	b.Publish(Event{Type: "x", LocationID: "kitchen"})
	b.Publish(Event{Type: "x", LocationID: "main_floor"})

	assert.Equal(t, []string{"main_floor"}, got)
}

func TestHandlerError_UnwrapsToSentinel(t *testing.T) {
	b := New()
	b.Subscribe(Subscription{Handler: func(Event) error { return errors.New("boom") }, ID: "h1"})
	// The bus swallows the error; this test exercises HandlerError directly.
	herr := &HandlerError{HandlerID: "h1", EventType: "x", Cause: errors.New("boom")}
	require.True(t, errors.Is(herr, ErrHandlerFailed))
}
