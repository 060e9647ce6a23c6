package roomcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPort is the server's well-known UDP port.
const DefaultPort = 30000

// Transport is the datagram channel between a session and the server.
type Transport interface {
	// Send queues msg and returns immediately; failures go to the error handler.
	Send(msg *Message)
	// SendSync writes msg before returning.
	SendSync(msg *Message) error
	// Listen delivers decoded messages until the channel is closed or ctx is
	// done, in which case it returns nil. It returns an ErrChannelLost error when
	// the socket keeps failing.
	Listen(ctx context.Context, onMessage func(*Message), onError func(error)) error
	SetErrorHandler(handler func(error))
	Close() error
}

// Tap observes every message that crosses the transport.
type Tap interface {
	Outbound(*Message)
	Inbound(*Message)
}

type ChannelOption func(*UDPChannel)

func WithSerializer(s Serializer) ChannelOption {
	return func(ch *UDPChannel) {
		ch.serializer = s
	}
}

func WithChannelLogger(l *zap.Logger) ChannelOption {
	return func(ch *UDPChannel) {
		ch.logger = l
	}
}

func WithChannelMetrics(m *Metrics) ChannelOption {
	return func(ch *UDPChannel) {
		ch.metrics = m
	}
}

func WithTap(t Tap) ChannelOption {
	return func(ch *UDPChannel) {
		ch.tap = t
	}
}

func WithOutboxSize(n int) ChannelOption {
	return func(ch *UDPChannel) {
		if n > 0 {
			ch.outboxSize = n
		}
	}
}

// packetConn is the part of *net.UDPConn the channel uses.
type packetConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// outbound is a queued send. done is set for synchronous sends and receives
// the write result.
type outbound struct {
	msg  *Message
	done chan error
}

// UDPChannel owns one unconnected UDP socket talking to a fixed server
// endpoint. Datagrams from any other source are discarded. All writes go
// through a single writer in the order they were queued.
type UDPChannel struct {
	conn       packetConn
	server     netip.AddrPort
	serializer Serializer
	logger     *zap.Logger
	metrics    *Metrics
	tap        Tap

	outboxSize int
	outbox     chan outbound
	quit       chan struct{}
	writerDone chan struct{}

	mu           sync.RWMutex
	closed       bool
	closeOnce    sync.Once
	errorHandler func(error)
}

var _ Transport = (*UDPChannel)(nil)

// DialUDP resolves address and opens a local socket for it. No packet is sent.
func DialUDP(address string, opts ...ChannelOption) (*UDPChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, transportErr("resolve", err)
	}
	var server = netip.AddrPortFrom(raddr.AddrPort().Addr().Unmap(), raddr.AddrPort().Port())
	var network = "udp6"
	if server.Addr().Is4() {
		network = "udp4"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, transportErr("listen", err)
	}
	return newUDPChannel(conn, server, opts...), nil
}

func newUDPChannel(conn packetConn, server netip.AddrPort, opts ...ChannelOption) *UDPChannel {
	var ch = &UDPChannel{
		conn:       conn,
		server:     server,
		serializer: &JsonSerializer{},
		logger:     zap.NewNop(),
		outboxSize: 64,
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.outbox = make(chan outbound, ch.outboxSize)
	ch.logger = ch.logger.With(zap.Stringer("server", server))
	go ch.writeLoop()
	return ch
}

func (ch *UDPChannel) Server() netip.AddrPort {
	return ch.server
}

func (ch *UDPChannel) LocalAddr() net.Addr {
	return ch.conn.LocalAddr()
}

func (ch *UDPChannel) SetErrorHandler(handler func(error)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.errorHandler = handler
}

func (ch *UDPChannel) isClosed() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.closed
}

func (ch *UDPChannel) reportError(err error) {
	ch.metrics.sendFailed()
	ch.logger.Warn("send failed", zap.Error(err))
	ch.mu.RLock()
	var handler = ch.errorHandler
	ch.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

func (ch *UDPChannel) Send(msg *Message) {
	if ch.isClosed() {
		ch.reportError(transportErr("send", net.ErrClosed))
		return
	}
	select {
	case ch.outbox <- outbound{msg: msg}:
	case <-ch.quit:
		ch.reportError(transportErr("send", net.ErrClosed))
	default:
		ch.reportError(transportErr("send", errors.New("outbound queue full")))
	}
}

// SendSync queues msg behind every pending send and waits until it has been
// written.
func (ch *UDPChannel) SendSync(msg *Message) error {
	if ch.isClosed() {
		return transportErr("send", net.ErrClosed)
	}
	var out = outbound{msg: msg, done: make(chan error, 1)}
	select {
	case ch.outbox <- out:
	case <-ch.quit:
		return transportErr("send", net.ErrClosed)
	}
	select {
	case err := <-out.done:
		return err
	case <-ch.writerDone:
		select {
		case err := <-out.done:
			return err
		default:
			return transportErr("send", net.ErrClosed)
		}
	}
}

func (ch *UDPChannel) write(msg *Message) error {
	b, err := ch.serializer.Encode(msg)
	if err != nil {
		return transportErr("encode", err)
	}
	if _, err := ch.conn.WriteToUDPAddrPort(b, ch.server); err != nil {
		return transportErr("write", err)
	}
	ch.metrics.sent(msg.Why)
	if ch.tap != nil {
		ch.tap.Outbound(msg)
	}
	ch.logger.Debug("sent", zap.Stringer("kind", msg.Why), zap.Int("room", msg.Where), zap.Int("bytes", len(b)))
	return nil
}

func (ch *UDPChannel) deliver(out outbound) {
	var err = ch.write(out.msg)
	if out.done != nil {
		out.done <- err
		return
	}
	if err != nil {
		ch.reportError(err)
	}
}

func (ch *UDPChannel) writeLoop() {
	defer close(ch.writerDone)
	for {
		select {
		case out := <-ch.outbox:
			ch.deliver(out)
		case <-ch.quit:
			for {
				select {
				case out := <-ch.outbox:
					ch.deliver(out)
				default:
					return
				}
			}
		}
	}
}

func (ch *UDPChannel) Listen(ctx context.Context, onMessage func(*Message), onError func(error)) error {
	var stop = context.AfterFunc(ctx, func() {
		_ = ch.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var failures int
	for {
		var buf = make([]byte, MaxMessageSize+1)
		n, from, err := ch.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ch.isClosed() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			if failures > 1 {
				ch.logger.Error("receive loop lost", zap.Error(err))
				return fmt.Errorf("%w: %w", ErrChannelLost, err)
			}
			ch.logger.Warn("receive failed, re-arming", zap.Error(err))
			onError(transportErr("receive", err))
			continue
		}
		failures = 0

		if netip.AddrPortFrom(from.Addr().Unmap(), from.Port()) != ch.server {
			ch.logger.Debug("discarding datagram from unknown peer", zap.Stringer("from", from))
			continue
		}

		msg, err := ch.serializer.Decode(buf[:n])
		if err != nil {
			ch.metrics.decodeFailed()
			ch.logger.Warn("discarding datagram", zap.Int("bytes", n), zap.Error(err))
			if !ch.isClosed() {
				onError(err)
			}
			continue
		}
		ch.metrics.received(msg.Why)
		if ch.tap != nil {
			ch.tap.Inbound(msg)
		}
		if ch.isClosed() || ctx.Err() != nil {
			return nil
		}
		onMessage(msg)
	}
}

// Close flushes queued sends and releases the socket. Closing twice is a no-op.
func (ch *UDPChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		ch.mu.Lock()
		ch.closed = true
		ch.mu.Unlock()
		close(ch.quit)

		<-ch.writerDone
		err = ch.conn.Close()
	})
	return err
}
