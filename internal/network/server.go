package network

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"isoterrain/internal/logging"
	"isoterrain/internal/metrics"
)

type Handler func(ctx context.Context, addr *net.UDPAddr, env Envelope)

// Transport sends one message to addr.
type Transport interface {
	Send(addr string, msg MessageType, payload any) error
}

// UDPTransport exchanges envelopes as single datagrams. Handlers of one message type run in
// datagram order on the serving goroutine.
type UDPTransport struct {
	conn    *net.UDPConn
	logger  *zap.SugaredLogger
	maxSize int
	seq     atomic.Uint64

	mu       sync.RWMutex
	handlers map[MessageType][]Handler
}

func Listen(listenAddr string, logger *zap.SugaredLogger, maxSize int) (*UDPTransport, error) {
	if maxSize <= 0 {
		maxSize = 64 * 1024
	}
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve udp addr")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen udp")
	}
	return &UDPTransport{
		conn:     conn,
		logger:   logging.Or(logger),
		maxSize:  maxSize,
		handlers: make(map[MessageType][]Handler),
	}, nil
}

// Addr returns the bound local address.
func (s *UDPTransport) Addr() string {
	return s.conn.LocalAddr().String()
}

func (s *UDPTransport) Close() error {
	return s.conn.Close()
}

func (s *UDPTransport) Register(msgType MessageType, handler Handler) {
	s.mu.Lock()
	s.handlers[msgType] = append(s.handlers[msgType], handler)
	s.mu.Unlock()
}

func (s *UDPTransport) Serve(ctx context.Context) error {
	buffer := make([]byte, s.maxSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var nErr net.Error
			if errors.As(err, &nErr) && nErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read udp")
		}

		payload := make([]byte, n)
		copy(payload, buffer[:n])

		env, err := Decode(payload)
		if err != nil {
			s.logger.Warnw("decode message", "from", addr, "error", err)
			continue
		}

		for _, handler := range s.handlersFor(env.Type) {
			handler(ctx, addr, env)
		}
	}
}

func (s *UDPTransport) handlersFor(msgType MessageType) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Handler(nil), s.handlers[msgType]...)
}

func (s *UDPTransport) Send(addr string, msg MessageType, payload any) error {
	target, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	data, err := s.prepare(msg, payload)
	if err != nil {
		return err
	}
	if len(data) > s.maxSize {
		return errors.Errorf("%s message of %d bytes exceeds datagram limit %d", msg, len(data), s.maxSize)
	}
	if _, err := s.conn.WriteToUDP(data, target); err != nil {
		return errors.Wrapf(err, "send %s to %s", msg, addr)
	}
	metrics.FrameSent(string(msg))
	return nil
}

func (s *UDPTransport) prepare(msgType MessageType, payload any) ([]byte, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Seq:       s.seq.Add(1),
		Payload:   raw,
	}
	return Encode(env)
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(payload)
		return raw, errors.Wrap(err, "encode payload")
	}
}
