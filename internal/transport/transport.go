// Package transport implements the UDP and TCP front-ends described in
// §4.8: a single dual-stack UDP socket and a dual-stack TCP listener that
// frames each connection with a 4-octet length prefix, sharing one
// dispatcher and one address space for replies.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ziyouwa/vnts/internal/dispatch"
	"github.com/ziyouwa/vnts/internal/errkind"
	"github.com/ziyouwa/vnts/internal/logger"
	"github.com/ziyouwa/vnts/internal/wire"
)

const (
	// tcpOutboxCapacity matches the bounded writer mailbox from the
	// concurrency model.
	tcpOutboxCapacity = 100
	udpReadBufSize    = wire.MaxFrameSize
	udpPollInterval   = 500 * time.Millisecond
)

// Config holds the parts of the CLI configuration the transport layer
// consults directly.
type Config struct {
	Port int
}

// tcpFrameHeaderSize is the 4-octet TCP record marker: two reserved bytes
// that must be zero, then a big-endian u16 length.
const tcpFrameHeaderSize = 4

// Hub multiplexes the UDP socket and every live TCP connection onto one
// dispatcher and implements dispatch.Sender by routing a reply to whichever
// transport last delivered traffic for that address: a TCP connection's
// outbox if one is registered for addr, the UDP socket otherwise.
type Hub struct {
	cfg     Config
	handler *dispatch.Dispatcher

	udpConn     *net.UDPConn
	tcpListener net.Listener

	mu    sync.Mutex
	conns map[string]*tcpConn

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewHub builds a Hub over handler. Call Serve to start listening.
func NewHub(cfg Config, handler *dispatch.Dispatcher) *Hub {
	return &Hub{
		cfg:      cfg,
		handler:  handler,
		conns:    make(map[string]*tcpConn),
		shutdown: make(chan struct{}),
	}
}

// Serve starts the UDP and TCP front-ends and blocks until ctx is cancelled
// or Stop is called and every accepted TCP connection has closed.
func (h *Hub) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", h.cfg.Port)

	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		_ = tcpListener.Close()
		return fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		_ = tcpListener.Close()
		return fmt.Errorf("listen udp %s: %w", addr, err)
	}
	h.udpConn = udpConn
	h.tcpListener = tcpListener

	logger.Info("transport listening", "address", addr)

	h.wg.Add(2)
	go h.serveTCP(ctx, tcpListener)
	go h.serveUDP(ctx)

	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-h.shutdown:
		}
		_ = tcpListener.Close()
	}()

	h.wg.Wait()
	return nil
}

// Stop tears down the UDP socket and the TCP listener. Live TCP connections
// are not closed: each keeps running until its peer disconnects or a read or
// write on it fails.
func (h *Hub) Stop() {
	h.shutdownOnce.Do(func() {
		close(h.shutdown)
		if h.udpConn != nil {
			_ = h.udpConn.Close()
		}
	})
}

// Addr returns the TCP listener address, or "" before Serve has bound one.
func (h *Hub) Addr() string {
	if h.tcpListener == nil {
		return ""
	}
	return h.tcpListener.Addr().String()
}

// UDPAddr returns the UDP socket address, or "" before Serve has bound one.
func (h *Hub) UDPAddr() string {
	if h.udpConn == nil {
		return ""
	}
	return h.udpConn.LocalAddr().String()
}

// SendTo implements dispatch.Sender.
func (h *Hub) SendTo(addr string, frame []byte) error {
	h.mu.Lock()
	c, ok := h.conns[addr]
	h.mu.Unlock()
	if ok {
		return c.enqueue(frame)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = h.udpConn.WriteToUDP(frame, udpAddr)
	return err
}

// serveUDP is the fixed-size receive loop: read a datagram into a scratch
// buffer, parse, dispatch. A short read deadline lets the loop notice
// shutdown without a second cancellation path for the socket read.
func (h *Hub) serveUDP(ctx context.Context) {
	defer h.wg.Done()
	buf := make([]byte, udpReadBufSize)

	for {
		select {
		case <-h.shutdown:
			return
		default:
		}

		if err := h.udpConn.SetReadDeadline(time.Now().Add(udpPollInterval)); err != nil {
			select {
			case <-h.shutdown:
				return
			default:
				continue
			}
		}

		n, from, err := h.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-h.shutdown:
				return
			default:
				logger.Debug("udp read error", "error", err)
				continue
			}
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		h.handler.Dispatch(ctx, raw, from.String(), h)
	}
}

func (h *Hub) serveTCP(ctx context.Context, ln net.Listener) {
	defer h.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-h.shutdown:
				return
			default:
				logger.Debug("tcp accept error", "error", err)
				return
			}
		}
		h.wg.Add(1)
		go h.handleTCPConn(ctx, conn)
	}
}

// tcpConn tracks one accepted connection: its bounded writer mailbox and
// the shared done signal that joins the reader, writer and outer session
// as a trio; failure of any one tears down the others.
type tcpConn struct {
	conn   net.Conn
	addr   string
	outbox chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func (c *tcpConn) enqueue(frame []byte) error {
	select {
	case c.outbox <- frame:
		return nil
	case <-c.done:
		return errkind.Newf(errkind.TransportFatal, "tcp connection %s closed", c.addr)
	default:
		return errkind.Newf(errkind.TransportFatal, "tcp outbox full for %s", c.addr)
	}
}

func (c *tcpConn) teardown() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (h *Hub) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer h.wg.Done()

	addr := conn.RemoteAddr().String()
	tc := &tcpConn{conn: conn, addr: addr, outbox: make(chan []byte, tcpOutboxCapacity), done: make(chan struct{})}

	h.mu.Lock()
	h.conns[addr] = tc
	h.mu.Unlock()

	connCtx := logger.WithContext(ctx, &logger.PacketContext{ConnID: xid.New().String(), PeerAddr: addr})
	logger.DebugCtx(connCtx, "tcp connection accepted")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.tcpReader(connCtx, tc)
	}()
	go func() {
		defer wg.Done()
		h.tcpWriter(connCtx, tc)
	}()
	wg.Wait()

	h.mu.Lock()
	delete(h.conns, addr)
	h.mu.Unlock()
	h.handler.DropAddress(addr)
	logger.DebugCtx(connCtx, "tcp connection closed")
}

// tcpReader repeatedly reads the 4-octet length prefix then the framed
// packet and hands it to the dispatcher. Packets from a single TCP
// connection are processed in arrival order because there is exactly one
// reader per connection.
func (h *Hub) tcpReader(ctx context.Context, tc *tcpConn) {
	defer tc.teardown()

	r := bufio.NewReader(tc.conn)
	var hdr [tcpFrameHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err != io.EOF {
				logger.DebugCtx(ctx, "tcp read fragment header error", "error", err)
			}
			return
		}
		if hdr[0] != 0 || hdr[1] != 0 {
			logger.DebugCtx(ctx, "tcp frame reserved bytes non-zero")
			return
		}

		length := binary.BigEndian.Uint16(hdr[2:4])
		if length < wire.HeaderSize {
			logger.DebugCtx(ctx, "tcp frame shorter than header", "length", length)
			return
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(r, frame); err != nil {
			logger.DebugCtx(ctx, "tcp read frame error", "error", err)
			return
		}

		h.handler.Dispatch(ctx, frame, tc.addr, h)
	}
}

// tcpWriter drains the bounded outbox and writes length prefix + frame to
// the socket. A write failure tears down both tasks via tc.teardown.
func (h *Hub) tcpWriter(ctx context.Context, tc *tcpConn) {
	defer tc.teardown()

	if tcpSock, ok := tc.conn.(*net.TCPConn); ok {
		if err := tcpSock.SetNoDelay(true); err != nil {
			logger.DebugCtx(ctx, "tcp set no delay error", "error", err)
		}
	}

	for {
		select {
		case <-tc.done:
			return
		case frame := <-tc.outbox:
			var hdr [tcpFrameHeaderSize]byte
			binary.BigEndian.PutUint16(hdr[2:4], uint16(len(frame)))
			if _, err := tc.conn.Write(hdr[:]); err != nil {
				logger.DebugCtx(ctx, "tcp write header error", "error", err)
				return
			}
			if _, err := tc.conn.Write(frame); err != nil {
				logger.DebugCtx(ctx, "tcp write frame error", "error", err)
				return
			}
		}
	}
}
