package tokenring

import (
	"context"
	"errors"
	"time"
)

// Outcome classifies one transport attempt.
type Outcome int

const (
	OutcomeReceived Outcome = iota
	OutcomeTimedOut
	OutcomeDelivered
	OutcomeConnectFailed
	OutcomeOversized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReceived:
		return "received"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeConnectFailed:
		return "connect-failed"
	case OutcomeOversized:
		return "oversized"
	}
	return "unknown"
}

// detection is the result of one bounded transport attempt.
// Err carries the cause for anything other than received or delivered.
type detection struct {
	Outcome Outcome
	Token   *Token
	Peer    NodeAddress
	Err     error
}

// detector applies the timeout policy to both transport directions.
type detector struct {
	inbound     Inbound
	outbound    Outbound
	baseTimeout time.Duration
	sendTimeout time.Duration
}

// newDetector creates a new detector.
func newDetector(in Inbound, out Outbound, baseTimeout, sendTimeout time.Duration) *detector {
	return &detector{
		inbound:     in,
		outbound:    out,
		baseTimeout: baseTimeout,
		sendTimeout: sendTimeout,
	}
}

// inboundTimeout grows with the ring index, since nodes further along wait
// through more hops.
func (d *detector) inboundTimeout(index int) time.Duration {
	return d.baseTimeout * time.Duration(index+1)
}

// awaitToken waits for one inbound token. A malformed or oversized payload is
// reported as timed-out with Err set. The returned error is non-nil only when
// ctx itself was cancelled.
func (d *detector) awaitToken(ctx context.Context, index int) (detection, error) {
	var rctx, cancel = context.WithTimeout(ctx, d.inboundTimeout(index))
	defer cancel()

	token, err := d.inbound.Receive(rctx)
	if ctx.Err() != nil {
		return detection{}, ctx.Err()
	}
	switch {
	case err == nil:
		return detection{Outcome: OutcomeReceived, Token: token}, nil
	case errors.Is(err, ErrNoToken), errors.Is(err, context.DeadlineExceeded):
		return detection{Outcome: OutcomeTimedOut}, nil
	default:
		return detection{Outcome: OutcomeTimedOut, Err: err}, nil
	}
}

// deliver makes one bounded attempt to hand token to peer. The returned error
// is non-nil only when ctx itself was cancelled.
func (d *detector) deliver(ctx context.Context, peer NodeAddress, token *Token) (detection, error) {
	var sctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := d.outbound.Send(sctx, peer, token)
	if ctx.Err() != nil {
		return detection{}, ctx.Err()
	}
	switch {
	case err == nil:
		return detection{Outcome: OutcomeDelivered, Peer: peer}, nil
	case errors.Is(err, ErrTokenTooLarge):
		return detection{Outcome: OutcomeOversized, Peer: peer, Err: err}, nil
	default:
		return detection{Outcome: OutcomeConnectFailed, Peer: peer, Err: err}, nil
	}
}
