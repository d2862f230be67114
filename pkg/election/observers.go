package election

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chieftain/pkg/metrics"
)

// Subscription identifies one registered callback for later removal.
type Subscription uint64

// StateChangeHandler receives every actual state change with the new and the
// previous state.
type StateChangeHandler func(newState, oldState State)

// DataHandler receives the payload of every accepted DATA message, including
// payloads this peer broadcast itself.
type DataHandler func(payload json.RawMessage)

type observerEntry[H any] struct {
	id Subscription
	cb H
}

// observerRegistry fans events out to dynamically subscribed callbacks.
// Each invocation is panic-isolated so one misbehaving observer cannot take
// down its siblings or the state machine.
type observerRegistry struct {
	mu     sync.Mutex
	nextID Subscription

	stateChange    []observerEntry[StateChangeHandler]
	becomeChief    []observerEntry[func()]
	becomeFollower []observerEntry[func()]
	data           []observerEntry[DataHandler]
}

func (r *observerRegistry) subscribeStateChange(cb StateChangeHandler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.stateChange = append(r.stateChange, observerEntry[StateChangeHandler]{r.nextID, cb})
	return r.nextID
}

func (r *observerRegistry) subscribeBecomeChief(cb func()) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.becomeChief = append(r.becomeChief, observerEntry[func()]{r.nextID, cb})
	return r.nextID
}

func (r *observerRegistry) subscribeBecomeFollower(cb func()) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.becomeFollower = append(r.becomeFollower, observerEntry[func()]{r.nextID, cb})
	return r.nextID
}

func (r *observerRegistry) subscribeData(cb DataHandler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.data = append(r.data, observerEntry[DataHandler]{r.nextID, cb})
	return r.nextID
}

// unsubscribe removes a callback by handle. Unknown handles are a no-op.
func (r *observerRegistry) unsubscribe(id Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateChange = removeEntry(r.stateChange, id)
	r.becomeChief = removeEntry(r.becomeChief, id)
	r.becomeFollower = removeEntry(r.becomeFollower, id)
	r.data = removeEntry(r.data, id)
}

func removeEntry[H any](entries []observerEntry[H], id Subscription) []observerEntry[H] {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// notifyStateChange returns a deferred fan-out over a snapshot of the
// current subscribers, so callbacks run outside the elector's lock.
func (r *observerRegistry) notifyStateChange(log *zap.Logger, newState, oldState State) func() {
	r.mu.Lock()
	snapshot := append([]observerEntry[StateChangeHandler](nil), r.stateChange...)
	r.mu.Unlock()
	return func() {
		for _, e := range snapshot {
			cb := e.cb
			guard(log, "state-change", func() { cb(newState, oldState) })
		}
	}
}

func (r *observerRegistry) notifyBecomeChief(log *zap.Logger) func() {
	r.mu.Lock()
	snapshot := append([]observerEntry[func()](nil), r.becomeChief...)
	r.mu.Unlock()
	return func() {
		for _, e := range snapshot {
			guard(log, "become-chief", e.cb)
		}
	}
}

func (r *observerRegistry) notifyBecomeFollower(log *zap.Logger) func() {
	r.mu.Lock()
	snapshot := append([]observerEntry[func()](nil), r.becomeFollower...)
	r.mu.Unlock()
	return func() {
		for _, e := range snapshot {
			guard(log, "become-follower", e.cb)
		}
	}
}

func (r *observerRegistry) notifyData(log *zap.Logger, payload json.RawMessage) func() {
	r.mu.Lock()
	snapshot := append([]observerEntry[DataHandler](nil), r.data...)
	r.mu.Unlock()
	return func() {
		for _, e := range snapshot {
			cb := e.cb
			guard(log, "data", func() { cb(payload) })
		}
	}
}

// guard runs a user callback and converts a panic into a log line and a
// metric instead of letting it unwind into the protocol.
func guard(log *zap.Logger, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CallbackPanics.WithLabelValues(kind).Inc()
			log.Error("recovered panic in callback",
				zap.String("kind", kind),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
