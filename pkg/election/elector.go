package election

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chieftain/pkg/identity"
	"chieftain/pkg/logger"
	"chieftain/pkg/metrics"
	"chieftain/pkg/protocol"
	"chieftain/pkg/transport"
)

// electionDebounce suppresses redundant election restarts from bursty
// triggers, e.g. a shutdown notice landing right next to a liveness timeout.
const electionDebounce = 100 * time.Millisecond

// ErrNotRunning is returned when broadcasting on a peer that is not started.
var ErrNotRunning = errors.New("elector is not running")

// Config holds the immutable session parameters of one peer.
// HeartbeatInterval should be materially smaller than ElectionTimeout,
// otherwise followers will suspect a healthy chief.
type Config struct {
	Channel           string
	HeartbeatInterval time.Duration
	ElectionTimeout   time.Duration
}

// DefaultConfig returns the standard session parameters.
func DefaultConfig() Config {
	return Config{
		Channel:           "chieftain-default",
		HeartbeatInterval: 1000 * time.Millisecond,
		ElectionTimeout:   3000 * time.Millisecond,
	}
}

// Elector is one peer in a single-leader election over a broadcast channel.
// Peers sharing a channel elect exactly one chief among themselves, detect
// its failure through heartbeat absence, and re-elect without any external
// coordinator. Priority is the peer's (creation time, id) pair; every peer
// applies the identical total order, which is what makes elections converge.
//
// All transitions are serialized through one mutex; message handling, timer
// expiry and the public surface each run to completion one at a time.
// User callbacks run after the lock is released so they may call back into
// the elector.
type Elector struct {
	id        identity.Identity
	cfg       Config
	connector transport.Connector
	log       *zap.Logger

	effects   effectRegistry
	observers observerRegistry

	mu            sync.Mutex
	state         State
	chiefID       string
	tr            transport.Transport
	gen           uint64 // bumping invalidates outstanding timer callbacks
	timer         *time.Timer
	hbStop        chan struct{}
	debounceUntil time.Time
	pending       []func() // callbacks queued to run outside the lock
}

// New creates an idle peer with a fresh identity. Zero config fields fall
// back to defaults.
func New(connector transport.Connector, cfg Config) *Elector {
	return NewWithIdentity(identity.New(), connector, cfg)
}

// NewWithIdentity creates a peer with a caller-supplied identity. Mostly
// useful for tests that need deterministic priorities; the identity must
// still be unique on the channel.
func NewWithIdentity(id identity.Identity, connector transport.Connector, cfg Config) *Elector {
	def := DefaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ElectionTimeout <= 0 {
		cfg.ElectionTimeout = def.ElectionTimeout
	}

	return &Elector{
		id:        id,
		cfg:       cfg,
		connector: connector,
		state:     StateIdle,
		log: logger.WithFields(
			zap.String("component", "elector"),
			zap.String("peer_id", id.ID),
			zap.String("channel", cfg.Channel),
		),
	}
}

// ID returns this peer's unique id.
func (e *Elector) ID() string {
	return e.id.ID
}

// State returns a snapshot of the current state.
func (e *Elector) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsChief reports whether this peer currently holds the chief role.
func (e *Elector) IsChief() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateChief
}

// ChiefID returns the id of the most recently trusted chief, or "" when no
// chief is known.
func (e *Elector) ChiefID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chiefID
}

// Channel returns the channel name this peer participates in.
func (e *Elector) Channel() string {
	return e.cfg.Channel
}

// Start opens the transport and begins an election. It is a no-op unless the
// peer is idle or stopped; a stopped peer restarts with its identity and
// configuration intact.
func (e *Elector) Start() error {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateStopped {
		e.mu.Unlock()
		return nil
	}

	tr, err := e.connector.Connect(e.cfg.Channel, e.id.ID, e.handleMessage)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to open transport: %w", err)
	}
	e.tr = tr
	e.debounceUntil = time.Time{} // fresh window per session
	e.log.Info("starting", zap.String("state", e.state.String()))
	e.startElectionLocked()
	e.flushLocked()
	return nil
}

// Stop leaves the protocol: a chief announces its shutdown first, owed
// cleanups run, every timer is cancelled and the transport is closed. It is
// a no-op when idle or already stopped; calling it twice cleans up once.
func (e *Elector) Stop() error {
	e.mu.Lock()
	if e.state == StateIdle || e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}

	if e.state == StateChief {
		e.sendLocked(&protocol.Message{
			Type:      protocol.TypeShutdown,
			SenderID:  e.id.ID,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	e.stopHeartbeatLocked()
	e.gen++
	e.stopTimerLocked()
	e.chiefID = ""

	tr := e.tr
	e.tr = nil

	e.queueLocked(func() { e.effects.deactivateAll(e.log) })
	e.setStateLocked(StateStopped)
	e.log.Info("stopped")
	e.flushLocked()

	if tr != nil {
		if err := tr.Close(); err != nil {
			e.log.Warn("transport close failed", zap.Error(err))
		}
	}
	return nil
}

// RegisterExclusive adds a leadership-scoped task. setup runs once per chief
// acquisition (immediately if this peer already is chief), cleanup — if not
// nil — once per loss of the role or on Stop. The registration itself
// survives leadership cycles.
func (e *Elector) RegisterExclusive(setup func(), cleanup func()) {
	if setup == nil {
		return
	}
	e.mu.Lock()
	idx := e.effects.register(setup, cleanup)
	if e.state == StateChief {
		e.queueLocked(func() { e.effects.activateIndex(e.log, idx) })
	}
	e.flushLocked()
}

// BroadcastData sends an application payload to every peer on the channel.
// Local data subscribers observe it too, delivered directly rather than
// through the transport.
func (e *Elector) BroadcastData(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	e.mu.Lock()
	if e.tr == nil {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.sendLocked(&protocol.Message{
		Type:      protocol.TypeData,
		SenderID:  e.id.ID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	})
	metrics.DataBroadcasts.Inc()
	e.queueLocked(e.observers.notifyData(e.log, data))
	e.flushLocked()
	return nil
}

// SubscribeStateChange registers cb for every actual state change.
func (e *Elector) SubscribeStateChange(cb StateChangeHandler) Subscription {
	return e.observers.subscribeStateChange(cb)
}

// SubscribeBecomeChief registers cb for transitions into the chief role.
func (e *Elector) SubscribeBecomeChief(cb func()) Subscription {
	return e.observers.subscribeBecomeChief(cb)
}

// SubscribeBecomeFollower registers cb for demotions from chief to follower.
// Entering the follower state from an election does not fire it.
func (e *Elector) SubscribeBecomeFollower(cb func()) Subscription {
	return e.observers.subscribeBecomeFollower(cb)
}

// SubscribeData registers cb for every accepted DATA payload.
func (e *Elector) SubscribeData(cb DataHandler) Subscription {
	return e.observers.subscribeData(cb)
}

// Unsubscribe removes a previously registered callback.
func (e *Elector) Unsubscribe(sub Subscription) {
	e.observers.unsubscribe(sub)
}

// --- internals; every *Locked method runs with e.mu held ---

// queueLocked defers fn until the current entry point releases the lock.
func (e *Elector) queueLocked(fn func()) {
	e.pending = append(e.pending, fn)
}

// flushLocked releases the lock and runs the queued callbacks in order.
// Every entry point finishes through here.
func (e *Elector) flushLocked() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (e *Elector) setStateLocked(next State) {
	prev := e.state
	if prev == next {
		return
	}
	e.state = next

	metrics.StateTransitions.WithLabelValues(prev.String(), next.String()).Inc()
	for _, s := range []State{StateIdle, StateElecting, StateChief, StateFollower, StateStopped} {
		v := 0.0
		if s == next {
			v = 1.0
		}
		metrics.CurrentState.WithLabelValues(s.String()).Set(v)
	}
	e.log.Debug("state change",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)

	e.queueLocked(e.observers.notifyStateChange(e.log, next, prev))
	if next == StateChief {
		e.queueLocked(e.observers.notifyBecomeChief(e.log))
	}
	if next == StateFollower && prev == StateChief {
		e.queueLocked(e.observers.notifyBecomeFollower(e.log))
	}
}

func (e *Elector) sendLocked(msg *protocol.Message) {
	if e.tr == nil {
		return
	}
	if err := e.tr.Send(msg); err != nil {
		e.log.Warn("send failed",
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
}

// startElectionLocked opens a new election unless one was started within the
// debounce window.
func (e *Elector) startElectionLocked() {
	now := time.Now()
	if now.Before(e.debounceUntil) {
		e.log.Debug("election start suppressed by debounce")
		return
	}
	e.debounceUntil = now.Add(electionDebounce)

	e.chiefID = ""
	e.setStateLocked(StateElecting)
	e.sendLocked(&protocol.Message{
		Type:      protocol.TypeElection,
		SenderID:  e.id.ID,
		Timestamp: e.id.CreatedAt,
	})
	e.armTimerLocked(e.cfg.ElectionTimeout, e.onElectionTimeoutLocked)
	metrics.ElectionsStarted.Inc()
	e.log.Info("election started")
}

// armTimerLocked replaces the single one-shot timer. The generation bump
// guarantees a previously scheduled callback that is already past Stop's
// reach does nothing once it acquires the lock.
func (e *Elector) armTimerLocked(d time.Duration, fire func()) {
	e.stopTimerLocked()
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(d, func() {
		e.mu.Lock()
		if e.gen != gen {
			e.flushLocked()
			return
		}
		fire()
		e.flushLocked()
	})
}

func (e *Elector) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// onElectionTimeoutLocked declares victory: nobody outranking us answered.
func (e *Elector) onElectionTimeoutLocked() {
	if e.state != StateElecting {
		return
	}
	e.becomeChiefLocked()
}

// onLivenessTimeoutLocked fires when the chief went quiet for a full
// election timeout: presume it dead and re-elect.
func (e *Elector) onLivenessTimeoutLocked() {
	if e.state != StateFollower {
		return
	}
	e.log.Info("chief suspected dead", zap.String("chief_id", e.chiefID))
	metrics.ChiefSuspicions.Inc()
	e.chiefID = ""
	e.startElectionLocked()
}

func (e *Elector) becomeChiefLocked() {
	e.gen++
	e.stopTimerLocked()
	e.chiefID = e.id.ID

	e.sendLocked(&protocol.Message{
		Type:      protocol.TypeVictory,
		SenderID:  e.id.ID,
		Timestamp: time.Now().UnixMilli(),
	})
	e.startHeartbeatLocked()
	e.queueLocked(func() { e.effects.activateAll(e.log) })
	e.setStateLocked(StateChief)
	metrics.ElectionsWon.Inc()
	e.log.Info("election won, acting as chief")
}

// becomeFollowerLocked tracks chiefID as the leader and arms the liveness
// timer. Callers stepping down from chief handle heartbeat and cleanups
// before calling this.
func (e *Elector) becomeFollowerLocked(chiefID string) {
	e.chiefID = chiefID
	e.setStateLocked(StateFollower)
	e.armTimerLocked(e.cfg.ElectionTimeout, e.onLivenessTimeoutLocked)
}

// stepDownLocked demotes a chief that lost a conflict to newChief.
func (e *Elector) stepDownLocked(newChief string) {
	e.stopHeartbeatLocked()
	e.queueLocked(func() { e.effects.deactivateAll(e.log) })
	e.becomeFollowerLocked(newChief)
	e.log.Info("stepped down", zap.String("chief_id", newChief))
}

func (e *Elector) startHeartbeatLocked() {
	e.stopHeartbeatLocked()
	stop := make(chan struct{})
	e.hbStop = stop

	e.sendLocked(&protocol.Message{
		Type:      protocol.TypeHeartbeat,
		SenderID:  e.id.ID,
		Timestamp: time.Now().UnixMilli(),
	})
	metrics.HeartbeatsSent.Inc()

	interval := e.cfg.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.beat(stop)
			}
		}
	}()
}

func (e *Elector) beat(stop chan struct{}) {
	e.mu.Lock()
	select {
	case <-stop:
		e.mu.Unlock()
		return
	default:
	}
	if e.state == StateChief {
		e.sendLocked(&protocol.Message{
			Type:      protocol.TypeHeartbeat,
			SenderID:  e.id.ID,
			Timestamp: time.Now().UnixMilli(),
		})
		metrics.HeartbeatsSent.Inc()
	}
	e.flushLocked()
}

func (e *Elector) stopHeartbeatLocked() {
	if e.hbStop != nil {
		close(e.hbStop)
		e.hbStop = nil
	}
}

// handleMessage is the transport delivery callback.
func (e *Elector) handleMessage(msg *protocol.Message) {
	e.mu.Lock()
	if msg.SenderID == e.id.ID || e.state == StateIdle || e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	metrics.MessagesReceived.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case protocol.TypeElection:
		e.onElectionLocked(msg)
	case protocol.TypeAlive:
		e.onAliveLocked(msg)
	case protocol.TypeVictory:
		e.onChiefClaimLocked(msg, true)
	case protocol.TypeHeartbeat:
		e.onChiefClaimLocked(msg, false)
	case protocol.TypeShutdown:
		e.onShutdownLocked(msg)
	case protocol.TypeData:
		e.queueLocked(e.observers.notifyData(e.log, msg.Payload))
	default:
		e.log.Debug("ignoring unknown message type", zap.String("type", string(msg.Type)))
	}
	e.flushLocked()
}

// onElectionLocked answers a challenge. The message carries the sender's
// creation timestamp, its real priority key. If we outrank the sender we
// assert liveness and, unless already chief, run our own election so the
// race cannot be lost silently. If the sender outranks us we stay quiet and
// let its election play out.
func (e *Elector) onElectionLocked(msg *protocol.Message) {
	if e.id.ShouldYieldTo(msg.SenderID, msg.Timestamp) {
		return
	}
	e.sendLocked(&protocol.Message{
		Type:      protocol.TypeAlive,
		SenderID:  e.id.ID,
		Timestamp: e.id.CreatedAt,
	})
	if e.state != StateChief {
		e.startElectionLocked()
	}
}

// onAliveLocked concedes a running election to a higher-priority responder.
func (e *Elector) onAliveLocked(msg *protocol.Message) {
	if e.state != StateElecting {
		return
	}
	if e.id.ShouldYieldTo(msg.SenderID, msg.Timestamp) {
		e.log.Info("conceding election", zap.String("to", msg.SenderID))
		e.becomeFollowerLocked(msg.SenderID)
	}
}

// onChiefClaimLocked handles VICTORY and HEARTBEAT, both of which assert the
// sender is chief. These messages carry the sender's send-time clock, not
// its creation timestamp, so outside a running election the comparison falls
// back to our own current clock as an approximation of our key.
func (e *Elector) onChiefClaimLocked(msg *protocol.Message, isVictory bool) {
	switch e.state {
	case StateChief:
		// Two peers both believe they are chief. Resolve with the clock
		// approximation; the loser steps down, the winner re-asserts.
		metrics.ChiefConflicts.Inc()
		if identity.Outranks(msg.Timestamp, msg.SenderID, time.Now().UnixMilli(), e.id.ID) {
			e.stepDownLocked(msg.SenderID)
		} else {
			e.sendLocked(&protocol.Message{
				Type:      protocol.TypeVictory,
				SenderID:  e.id.ID,
				Timestamp: time.Now().UnixMilli(),
			})
		}

	case StateElecting:
		if isVictory {
			// The victory carries the sender's send-time clock; our own key
			// stays our creation timestamp per the tie-break rule.
			if e.id.ShouldYieldTo(msg.SenderID, msg.Timestamp) {
				e.becomeFollowerLocked(msg.SenderID)
			}
			return
		}
		// A live chief is heartbeating: adopt it unless we outrank its claim.
		if e.acceptsClaimLocked(msg) {
			metrics.HeartbeatsAccepted.Inc()
			e.becomeFollowerLocked(msg.SenderID)
		}

	case StateFollower:
		if msg.SenderID == e.chiefID || e.acceptsClaimLocked(msg) {
			if !isVictory {
				metrics.HeartbeatsAccepted.Inc()
			}
			e.becomeFollowerLocked(msg.SenderID)
		}
	}
}

// acceptsClaimLocked applies the clock approximation: does the claimed
// chief's (send time, id) outrank our (current time, id)?
func (e *Elector) acceptsClaimLocked(msg *protocol.Message) bool {
	return identity.Outranks(msg.Timestamp, msg.SenderID, time.Now().UnixMilli(), e.id.ID)
}

// onShutdownLocked reacts to the tracked chief leaving gracefully. Shutdown
// notices from anyone else are noise.
func (e *Elector) onShutdownLocked(msg *protocol.Message) {
	if e.chiefID == "" || msg.SenderID != e.chiefID {
		return
	}
	e.log.Info("chief announced shutdown", zap.String("chief_id", e.chiefID))
	e.chiefID = ""
	if e.state == StateFollower || e.state == StateElecting {
		e.startElectionLocked()
	}
}
