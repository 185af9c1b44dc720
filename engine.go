package tokenring

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a protocol engine state.
type State int32

const (
	StateAwaitingToken State = iota
	StateProcessing
	StateForwarding
	StateLapComplete
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateAwaitingToken:
		return "AWAITING_TOKEN"
	case StateProcessing:
		return "PROCESSING"
	case StateForwarding:
		return "FORWARDING"
	case StateLapComplete:
		return "LAP_COMPLETE"
	case StateRecovering:
		return "RECOVERING"
	}
	return "UNKNOWN"
}

// recovery says which path StateRecovering takes.
type recovery int

const (
	recoverReinitiate recovery = iota
	recoverSoleSurvivor
)

// Engine runs the token ring protocol for one node. It owns the ring view,
// the token in hand and the round counter; all protocol steps run on the
// goroutine that calls Run or Step.
type Engine struct {
	ring     *Ring
	inbound  Inbound
	detector *detector
	sensor   Sensor
	sink     Sink
	options  options

	// known is the startup membership, probed when this node is alone.
	known    []NodeAddress
	token    *Token
	recovery recovery
	// contributed is the ID of the last reading this node appended.
	contributed string

	state atomic.Int32
	round atomic.Int64
}

// NewEngine creates an engine. The initiator starts in StateProcessing with
// an empty round 1 token; every other node starts in StateAwaitingToken.
func NewEngine(ring *Ring, in Inbound, out Outbound, sensor Sensor, sink Sink, opts ...Option) *Engine {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	var e = &Engine{
		ring:     ring,
		inbound:  in,
		detector: newDetector(in, out, options.baseTimeout, options.sendTimeout),
		sensor:   sensor,
		sink:     sink,
		options:  options,
		known:    ring.Members(),
	}
	e.round.Store(1)

	if options.role.Initiates() {
		e.token = NewToken(ring.Self(), 1)
		e.setState(StateProcessing)
	} else {
		e.setState(StateAwaitingToken)
	}

	return e
}

// State returns the current state. Safe for concurrent use.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Round returns the local round counter. Safe for concurrent use.
func (e *Engine) Round() int {
	return int(e.round.Load())
}

// Ring returns the engine's ring view.
func (e *Engine) Ring() *Ring {
	return e.ring
}

// Run drives the state machine until ctx is cancelled, then releases the
// inbound listener.
func (e *Engine) Run(ctx context.Context) error {
	defer e.inbound.Close()

	e.options.logger.Info("token ring engine started",
		"address", e.ring.Self(),
		"role", e.options.role,
		"state", e.State(),
		"ring", e.ring.Members())

	for {
		if err := e.Step(ctx); err != nil {
			if ctx.Err() != nil {
				e.options.logger.Info("token ring engine stopped", "address", e.ring.Self(), "round", e.Round())
				return nil
			}
			return err
		}
	}
}

// Step performs one state transition. The only error it returns is ctx's.
func (e *Engine) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch e.State() {
	case StateAwaitingToken:
		return e.awaitToken(ctx)
	case StateProcessing:
		e.process(ctx)
		return nil
	case StateForwarding:
		return e.forward(ctx)
	case StateLapComplete:
		return e.completeLap(ctx)
	case StateRecovering:
		return e.recover(ctx)
	}
	return nil
}

func (e *Engine) awaitToken(ctx context.Context) error {
	var pos = e.ring.Position()

	det, err := e.detector.awaitToken(ctx, pos.Index)
	if err != nil {
		return err
	}

	if det.Outcome == OutcomeReceived {
		e.token = det.Token
		e.setState(StateProcessing)
		return nil
	}

	if det.Err != nil {
		e.options.logger.Warn("discarding unusable token",
			"address", e.ring.Self(),
			"action", "reinitiate",
			"error", det.Err)
	} else {
		e.options.logger.Info("no token arrived",
			"address", e.ring.Self(),
			"predecessor", pos.Predecessor,
			"timeout", e.detector.inboundTimeout(pos.Index),
			"action", "reinitiate")
	}
	e.token = nil
	e.recovery = recoverReinitiate
	e.setState(StateRecovering)
	return nil
}

// process heals membership from the token's source, then appends the local
// reading. Completion is decided after the append, so the local reading is
// always part of the lap. A token that already carries this node's last
// reading has come full circle after the ring shrank, and completes as is.
func (e *Engine) process(ctx context.Context) {
	var token = e.token

	if token.Source != "" && !e.ring.Contains(token.Source) {
		var pos = e.ring.Add(token.Source)
		e.options.logger.Info("detected rejoining node from token",
			"address", token.Source,
			"action", "add",
			"ring", e.ring.Members(),
			"index", pos.Index,
			"successor", pos.Successor)
	}

	e.observeRound(token.Round)

	if e.holdsOwnReading(token) {
		e.options.logger.Info("token returned with own reading",
			"address", e.ring.Self(),
			"round", token.Round,
			"readings", len(token.Data),
			"action", "flush")
		e.setState(StateLapComplete)
		return
	}

	var reading = e.capture(ctx, token.Round)
	e.contributed = reading.ID
	token.Data = append(token.Data, reading)

	if len(token.Data) >= e.ring.Size() {
		e.setState(StateLapComplete)
		return
	}
	e.setState(StateForwarding)
}

// completeLap flushes the lap and hands the next round's empty token on.
func (e *Engine) completeLap(ctx context.Context) error {
	var (
		token = e.token
		next  = max(token.Round, e.Round()) + 1
	)

	e.flush(ctx, token)
	e.options.logger.Info("completed lap",
		"address", e.ring.Self(),
		"round", token.Round,
		"readings", len(token.Data),
		"ring_size", e.ring.Size(),
		"next_round", next)

	e.token = NewToken(e.ring.Self(), next)
	e.observeRound(next)

	if err := pause(ctx, e.options.lapPause); err != nil {
		return err
	}
	e.setState(StateForwarding)
	return nil
}

// forward delivers the token to the successor, removing each unreachable
// successor and retrying with the next, at most size-1 times.
func (e *Engine) forward(ctx context.Context) error {
	var (
		token       = e.token
		maxAttempts = e.ring.Size() - 1
	)
	token.Source = e.ring.Self()

	for attempt := 0; attempt < maxAttempts && e.ring.Size() > 1; attempt++ {
		var successor = e.ring.Successor()

		det, err := e.detector.deliver(ctx, successor, token)
		if err != nil {
			return err
		}

		switch det.Outcome {
		case OutcomeDelivered:
			e.options.logger.Debug("forwarded token",
				"address", successor,
				"round", token.Round,
				"readings", len(token.Data))
			e.token = nil
			e.setState(StateAwaitingToken)
			return nil

		case OutcomeOversized:
			e.options.logger.Error("token too large to forward, completing lap locally",
				"address", successor,
				"round", token.Round,
				"readings", len(token.Data),
				"action", "flush",
				"error", det.Err)
			e.setState(StateLapComplete)
			return nil

		case OutcomeConnectFailed:
			var pos = e.ring.Remove(successor)
			e.options.logger.Warn("successor unreachable, removing from ring",
				"address", successor,
				"action", "remove",
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"ring", e.ring.Members(),
				"successor", pos.Successor,
				"error", det.Err)
			if pos.Size > 1 {
				e.options.logger.Info("retrying with next successor",
					"address", pos.Successor,
					"action", "retry")
			}
		}
	}

	e.options.logger.Warn("no successor reachable, continuing as sole survivor",
		"address", e.ring.Self(),
		"round", token.Round,
		"readings", len(token.Data),
		"action", "flush")
	e.recovery = recoverSoleSurvivor
	e.setState(StateRecovering)
	return nil
}

func (e *Engine) recover(ctx context.Context) error {
	switch e.recovery {
	case recoverSoleSurvivor:
		return e.recoverSoleSurvivor(ctx)
	default:
		return e.reinitiate(ctx)
	}
}

// reinitiate starts a fresh lap for the current round carrying only the
// local reading.
func (e *Engine) reinitiate(ctx context.Context) error {
	if err := pause(ctx, e.options.retryPause); err != nil {
		return err
	}

	var (
		round   = e.Round()
		reading = e.capture(ctx, round)
	)
	e.contributed = reading.ID
	e.token = NewToken(e.ring.Self(), round)
	e.token.Data = append(e.token.Data, reading)

	e.options.logger.Info("re-initiating lap",
		"address", e.ring.Self(),
		"round", round,
		"action", "reinitiate")

	if len(e.token.Data) >= e.ring.Size() {
		e.setState(StateLapComplete)
		return nil
	}
	e.setState(StateForwarding)
	return nil
}

// recoverSoleSurvivor completes the lap alone, then probes the startup peers
// for one that came back.
func (e *Engine) recoverSoleSurvivor(ctx context.Context) error {
	var token = e.token

	if len(token.Data) > 0 {
		var next = max(token.Round, e.Round()) + 1
		e.flush(ctx, token)
		e.options.logger.Info("completed lap as sole survivor",
			"address", e.ring.Self(),
			"round", token.Round,
			"readings", len(token.Data),
			"next_round", next)
		token = NewToken(e.ring.Self(), next)
		e.token = token
		e.observeRound(next)
	}

	for _, peer := range e.known {
		if e.ring.Contains(peer) {
			continue
		}

		det, err := e.detector.deliver(ctx, peer, token)
		if err != nil {
			return err
		}
		if det.Outcome != OutcomeDelivered {
			continue
		}

		var pos = e.ring.Add(peer)
		e.options.logger.Info("peer reachable again, rejoining ring",
			"address", peer,
			"action", "add",
			"round", token.Round,
			"ring", e.ring.Members(),
			"successor", pos.Successor)
		e.token = nil
		e.setState(StateAwaitingToken)
		return nil
	}

	if err := pause(ctx, e.options.retryPause); err != nil {
		return err
	}
	e.token = nil
	e.setState(StateAwaitingToken)
	return nil
}

func (e *Engine) holdsOwnReading(token *Token) bool {
	if e.contributed == "" {
		return false
	}
	for _, r := range token.Data {
		if r.ID == e.contributed {
			return true
		}
	}
	return false
}

// capture takes the local reading for round, tagged with the current index
// and ring order.
func (e *Engine) capture(ctx context.Context, round int) *Reading {
	var (
		pos     = e.ring.Position()
		metrics = e.sensor.Capture(ctx)
	)
	if metrics == nil {
		metrics = make(Metrics)
	}

	return &Reading{
		ID:         uuid.NewString(),
		Node:       pos.Index,
		Round:      round,
		Metrics:    metrics,
		Topology:   e.ring.Members(),
		CapturedAt: time.Now().UTC(),
	}
}

// flush stores every reading of the token and renders the lap. Failures are
// logged per reading; nothing is rolled back.
func (e *Engine) flush(ctx context.Context, token *Token) {
	var members = e.ring.Members()

	for _, reading := range token.Data {
		if reading == nil {
			continue
		}
		var stored = reading.withTopology(members)
		if err := e.sink.Store(ctx, stored.Slot(), stored); err != nil {
			e.options.logger.Error("failed to store reading",
				"address", e.ring.Self(),
				"slot", stored.Slot(),
				"round", stored.Round,
				"error", err)
		}
	}

	if len(token.Data) == 0 {
		return
	}
	if err := e.options.renderer.Render(token.Round, token.Data); err != nil {
		e.options.logger.Warn("failed to render lap", "round", token.Round, "error", err)
	}
}

// observeRound keeps the local round counter non-decreasing.
func (e *Engine) observeRound(round int) {
	if round > e.Round() {
		e.round.Store(int64(round))
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// pause sleeps for d unless ctx is cancelled first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	var timer = time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
