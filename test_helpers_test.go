package tokenring

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeInbound replays queued receive results. With an empty queue it blocks
// until ctx ends, like a listener nobody connects to.
type fakeInbound struct {
	mu        sync.Mutex
	queue     []inboundResult
	deadlines []time.Duration
	closed    bool
}

type inboundResult struct {
	token *Token
	err   error
}

func (f *fakeInbound) push(token *Token, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, inboundResult{token: token, err: err})
}

func (f *fakeInbound) Receive(ctx context.Context) (*Token, error) {
	f.mu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, time.Until(deadline))
	}
	if len(f.queue) > 0 {
		var next = f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return next.token, next.err
	}
	f.mu.Unlock()

	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ErrNoToken
	}
	return nil, ctx.Err()
}

func (f *fakeInbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeInbound) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeOutbound records every delivery attempt. Addresses in down refuse
// connections.
type fakeOutbound struct {
	mu        sync.Mutex
	down      map[NodeAddress]bool
	oversized bool
	attempts  []sentToken
}

type sentToken struct {
	to        NodeAddress
	token     Token
	delivered bool
}

func newFakeOutbound(down ...NodeAddress) *fakeOutbound {
	var f = &fakeOutbound{down: make(map[NodeAddress]bool)}
	for _, addr := range down {
		f.down[addr] = true
	}
	return f
}

func (f *fakeOutbound) Send(ctx context.Context, addr NodeAddress, token *Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var sent = sentToken{
		to: addr,
		token: Token{
			Source: token.Source,
			Data:   append([]*Reading(nil), token.Data...),
			Round:  token.Round,
			Closed: token.Closed,
		},
	}

	switch {
	case f.oversized:
		f.attempts = append(f.attempts, sent)
		return ErrTokenTooLarge
	case f.down[addr]:
		f.attempts = append(f.attempts, sent)
		return errors.New("connection refused")
	}

	sent.delivered = true
	f.attempts = append(f.attempts, sent)
	return nil
}

func (f *fakeOutbound) setDown(addr NodeAddress, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[addr] = down
}

func (f *fakeOutbound) sent() []sentToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentToken(nil), f.attempts...)
}

func (f *fakeOutbound) delivered() []sentToken {
	var out []sentToken
	for _, s := range f.sent() {
		if s.delivered {
			out = append(out, s)
		}
	}
	return out
}

// memorySink keeps stored readings in memory. Stores to failSlot fail.
type memorySink struct {
	mu       sync.Mutex
	stored   []storedReading
	failSlot int
}

type storedReading struct {
	slot    int
	reading *Reading
}

func (s *memorySink) Store(ctx context.Context, slot int, reading *Reading) error {
	if reading == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slot == s.failSlot {
		return errors.New("disk full")
	}
	s.stored = append(s.stored, storedReading{slot: slot, reading: reading})
	return nil
}

func (s *memorySink) all() []storedReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedReading(nil), s.stored...)
}

func (s *memorySink) forRound(round int) []storedReading {
	var out []storedReading
	for _, r := range s.all() {
		if r.reading.Round == round {
			out = append(out, r)
		}
	}
	return out
}

// recordingRenderer captures rendered laps.
type recordingRenderer struct {
	mu     sync.Mutex
	rounds []int
	sizes  []int
	err    error
}

func (r *recordingRenderer) Render(round int, readings []*Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, round)
	r.sizes = append(r.sizes, len(readings))
	return r.err
}

// fixedSensor reports a constant temperature.
var fixedSensor = SensorFunc(func(ctx context.Context) Metrics {
	var t = 20.0
	return Metrics{MetricTemperature: &t, MetricHumidity: nil}
})

// readingAt builds a peer's reading for a token.
func readingAt(node, round int) *Reading {
	var t = 18.0 + float64(node)
	return &Reading{
		ID:         "reading-" + string(rune('a'+node)),
		Node:       node,
		Round:      round,
		Metrics:    Metrics{MetricTemperature: &t},
		CapturedAt: time.Now(),
	}
}
