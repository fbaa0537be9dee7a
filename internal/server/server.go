// Package server provides the base UDP server shared by every WIP
// service: socket bind, receive loop, worker pool dispatch, per-request
// timing, statistics and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/packet"
)

// Handler processes one received datagram. Returning non-nil response
// bytes sends them back to the datagram's source; returning nil sends
// nothing (the proxy forwards through Server.SendTo instead). A returned
// error is counted and logged but never terminates the server.
type Handler interface {
	HandleDatagram(ctx context.Context, data []byte, src *net.UDPAddr) ([]byte, error)
}

// CleanupHandler is implemented by handlers that hold resources to be
// released after the worker pool drains.
type CleanupHandler interface {
	Cleanup()
}

// Config holds the listener settings for a server instance.
type Config struct {
	// Name labels the server in logs and metrics
	Name string

	// Host and Port form the UDP bind address
	Host string
	Port int

	// Workers sizes the pool; zero means 2 × logical CPUs
	Workers int

	// BufferSize is the receive buffer per datagram; zero means 4096
	BufferSize int
}

// Stats is a snapshot of the server's counters.
type Stats struct {
	RequestCount uint64
	ErrorCount   uint64
	Uptime       time.Duration
}

type datagram struct {
	data []byte
	src  *net.UDPAddr
}

// Server is the shared UDP service loop. The listening socket is shared
// by every worker for both send and receive; statistics are mutated
// under a single lock.
type Server struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	conn  *net.UDPConn
	queue chan datagram
	wg    sync.WaitGroup

	mu           sync.Mutex
	requestCount uint64
	errorCount   uint64
	startTime    time.Time

	closing  chan struct{}
	stopOnce sync.Once
}

// New creates a server around a handler. The socket is bound by Run.
//
// Parameters:
//   - cfg: Listener configuration
//   - handler: Per-datagram processor
//   - logger: Zap logger for operational events
//
// Returns:
//   - *Server: Configured server, not yet listening
func New(cfg Config, handler Handler, logger *zap.Logger) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 2
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		queue:   make(chan datagram, cfg.Workers*4),
		closing: make(chan struct{}),
	}
}

// Run binds the socket and serves until Shutdown is called. It blocks
// for the server's lifetime.
//
// Returns:
//   - error: Bind failure; nil after a clean shutdown
func (s *Server) Run() error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.Port}
	if s.cfg.Host == "" || s.cfg.Host == "0.0.0.0" {
		addr.IP = nil
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("server listening",
		zap.String("server", s.cfg.Name),
		zap.String("addr", conn.LocalAddr().String()),
		zap.Int("workers", s.cfg.Workers))

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)

		go s.worker()
	}

	s.receiveLoop(conn)

	close(s.queue)
	s.wg.Wait()

	if ch, ok := s.handler.(CleanupHandler); ok {
		ch.Cleanup()
	}

	stats := s.Statistics()
	s.logger.Info("server stopped",
		zap.String("server", s.cfg.Name),
		zap.Uint64("requests", stats.RequestCount),
		zap.Uint64("errors", stats.ErrorCount),
		zap.Duration("uptime", stats.Uptime))

	return conn.Close()
}

// receiveLoop reads datagrams and dispatches them to the worker pool
// until shutdown. Benign socket errors (a UDP peer vanished, an ICMP
// unreachable surfaced as ECONNRESET) never stop the loop.
func (s *Server) receiveLoop(conn *net.UDPConn) {
	buf := make([]byte, s.cfg.BufferSize)

	for {
		select {
		case <-s.closing:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))

		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isDeadlineError(err) || isBenignUDPError(err) {
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.logger.Warn("receive error", zap.Error(err))

			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.queue <- datagram{data: data, src: src}:
		case <-s.closing:
			return
		}
	}
}

// worker drains the queue. Each datagram is handled atomically:
// parse, validate, respond, send — all inside the handler call.
func (s *Server) worker() {
	defer s.wg.Done()

	for d := range s.queue {
		s.handle(d)
	}
}

func (s *Server) handle(d datagram) {
	tracer := otel.Tracer("udp-server")
	ctx, span := tracer.Start(context.Background(), s.cfg.Name+".HandleDatagram")

	defer span.End()

	span.SetAttributes(
		attribute.String("udp.src", d.src.String()),
		attribute.Int("udp.size", len(d.data)),
	)

	s.mu.Lock()
	s.requestCount++
	s.mu.Unlock()

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.countError()
			s.logger.Error("handler panic",
				zap.String("src", d.src.String()),
				zap.Any("panic", r))
		}
	}()

	resp, err := s.handler.HandleDatagram(ctx, d.data, d.src)
	if err != nil {
		s.countError()
		span.RecordError(err)
		s.logger.Warn("request failed",
			zap.String("src", d.src.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}

	if resp != nil {
		if _, werr := s.conn.WriteToUDP(resp, d.src); werr != nil {
			s.countError()
			s.logger.Warn("send failed",
				zap.String("dst", d.src.String()),
				zap.Error(werr))

			return
		}
	}

	s.logger.Debug("datagram handled",
		zap.String("src", d.src.String()),
		zap.Int("request_bytes", len(d.data)),
		zap.Int("response_bytes", len(resp)),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Server) countError() {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()
}

// SendTo transmits a datagram from the server's own socket, so replies
// to forwarded packets return to this server's port.
func (s *Server) SendTo(data []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, addr)

	return err
}

// LocalAddr returns the bound address, useful when Port was 0.
func (s *Server) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Statistics returns a snapshot of the server's counters.
func (s *Server) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	return Stats{
		RequestCount: s.requestCount,
		ErrorCount:   s.errorCount,
		Uptime:       uptime,
	}
}

// Shutdown stops the receive loop, waits for in-flight workers to drain
// and closes the socket. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.closing)
	})

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isDeadlineError reports whether err is the read-deadline tick the
// receive loop uses to poll the closing channel.
func isDeadlineError(err error) bool {
	var nerr net.Error

	return errors.As(err, &nerr) && nerr.Timeout()
}

// isBenignUDPError reports whether a recvfrom failure only means a peer
// vanished (Windows surfaces ICMP port-unreachable as WSAECONNRESET).
func isBenignUDPError(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

// ErrorResponse serializes a type-7 packet answering the given request
// data with a status code. The correlation ID is recovered from the raw
// prefix even when the request failed to parse; source is preserved so
// the proxy can still route the error.
func ErrorResponse(version uint8, requestData []byte, code string, source string) []byte {
	id, _ := packet.PeekPacketID(requestData)

	b := packet.NewBuilder(version, packet.TypeError).
		PacketID(id).
		ErrorCode(code)

	if n, err := strconv.Atoi(code); err == nil && n >= 0 {
		b.AreaCodeInt(uint32(n))
	}

	if source != "" {
		b.Source(source)
	}

	p, err := b.Finalize()
	if err != nil {
		return nil
	}

	return p.Bytes()
}
