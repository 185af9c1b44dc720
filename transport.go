package tokenring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// DefaultMaxTokenSize bounds a serialized token on the wire.
	DefaultMaxTokenSize = 64 << 10

	// readTimeout bounds reading one accepted message.
	readTimeout = 5 * time.Second
)

var (
	// ErrNoToken is returned when no token connection arrived before the deadline.
	ErrNoToken = errors.New("no token received")

	// ErrMalformedToken is returned when a received message is not a valid token.
	ErrMalformedToken = errors.New("malformed token")

	// ErrTokenTooLarge is returned when a token exceeds the max token size.
	ErrTokenTooLarge = errors.New("token exceeds max size")
)

// Inbound receives tokens addressed to the local node.
type Inbound interface {
	// Receive accepts one connection and decodes its token.
	// It returns ErrNoToken once ctx's deadline passes without a connection.
	Receive(ctx context.Context) (*Token, error)
	Close() error
}

// Outbound delivers tokens to other nodes.
type Outbound interface {
	// Send writes token to addr over a new connection, bounded by ctx.
	Send(ctx context.Context, addr NodeAddress, token *Token) error
}

// Listener is the TCP implementation of Inbound. One message per connection,
// delimited by the sender closing it.
type Listener struct {
	ln           *net.TCPListener
	maxTokenSize int
}

// Listen binds the local address.
func Listen(addr NodeAddress, maxTokenSize int) (*Listener, error) {
	ln, err := net.Listen("tcp", string(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if maxTokenSize <= 0 {
		maxTokenSize = DefaultMaxTokenSize
	}
	return &Listener{
		ln:           ln.(*net.TCPListener),
		maxTokenSize: maxTokenSize,
	}, nil
}

// Addr returns the bound address. Useful when listening on port 0.
func (l *Listener) Addr() NodeAddress {
	return NodeAddress(l.ln.Addr().String())
}

// Receive implements Inbound. ctx bounds waiting for a connection only; once
// a predecessor is accepted its token is read to completion within
// readTimeout, unless ctx is cancelled.
func (l *Listener) Receive(ctx context.Context) (*Token, error) {
	var deadline, _ = ctx.Deadline()
	if err := l.ln.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set accept deadline: %w", err)
	}

	// Unblock Accept when ctx is cancelled before its deadline.
	var stopAccept = context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer stopAccept()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrNoToken
			}
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to accept token connection: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	// Only cancellation interrupts an accepted read, never the accept deadline.
	var stopRead = context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.Canceled) {
			_ = conn.SetReadDeadline(time.Now())
		}
	})
	defer stopRead()

	token, err := decodeToken(conn, l.maxTokenSize)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}
	return token, err
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dialer is the TCP implementation of Outbound.
type Dialer struct {
	maxTokenSize int
}

// NewDialer creates a Dialer refusing tokens larger than maxTokenSize.
func NewDialer(maxTokenSize int) *Dialer {
	if maxTokenSize <= 0 {
		maxTokenSize = DefaultMaxTokenSize
	}
	return &Dialer{maxTokenSize: maxTokenSize}
}

// Send implements Outbound. A nil error means the bytes were accepted by the
// local socket layer, not that the peer processed them.
func (d *Dialer) Send(ctx context.Context, addr NodeAddress, token *Token) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if len(payload) > d.maxTokenSize {
		return fmt.Errorf("%w: %d bytes", ErrTokenTooLarge, len(payload))
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write token to %s: %w", addr, err)
	}

	return nil
}

// decodeToken reads until EOF or maxSize bytes, whichever comes first.
func decodeToken(r io.Reader, maxSize int) (*Token, error) {
	raw, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read failed: %v", ErrMalformedToken, err)
	}
	if len(raw) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTokenTooLarge, maxSize)
	}

	var token Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if err := token.validate(); err != nil {
		return nil, err
	}

	return &token, nil
}
