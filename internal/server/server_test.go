package server

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/packet"
)

// echoHandler replies with the received bytes and counts invocations.
type echoHandler struct {
	calls   atomic.Int64
	cleaned atomic.Bool
}

func (h *echoHandler) HandleDatagram(_ context.Context, data []byte, _ *net.UDPAddr) ([]byte, error) {
	h.calls.Add(1)

	return data, nil
}

func (h *echoHandler) Cleanup() {
	h.cleaned.Store(true)
}

// startServer runs a server on an ephemeral port and returns it once the
// socket is bound.
func startServer(t *testing.T, h Handler) (*Server, *net.UDPAddr) {
	t.Helper()

	s := New(Config{Name: "test", Host: "127.0.0.1", Port: 0, Workers: 4}, h, zap.NewNop())

	go func() {
		_ = s.Run()
	}()

	var addr *net.UDPAddr
	require.Eventually(t, func() bool {
		addr = s.LocalAddr()

		return addr != nil
	}, 2*time.Second, 10*time.Millisecond)

	return s, addr
}

// TestServerEchoAndStats verifies the receive → worker → send path and
// the statistics counters.
func TestServerEchoAndStats(t *testing.T) {
	h := &echoHandler{}
	s, addr := startServer(t, h)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)

	defer conn.Close()

	payload := []byte("ping")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	stats := s.Statistics()
	assert.Equal(t, uint64(1), stats.RequestCount)
	assert.Equal(t, uint64(0), stats.ErrorCount)
	assert.Greater(t, stats.Uptime, time.Duration(0))
}

// TestServerGracefulShutdown verifies workers drain and the cleanup hook
// runs before Run returns.
func TestServerGracefulShutdown(t *testing.T) {
	h := &echoHandler{}
	s, addr := startServer(t, h)

	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)

	defer conn.Close()

	for i := 0; i < 10; i++ {
		_, err = conn.Write([]byte{byte(i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return h.calls.Load() == 10
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Eventually(t, func() bool {
		return h.cleaned.Load()
	}, 3*time.Second, 10*time.Millisecond)
}

// errorHandler always fails; the server must count it and keep serving.
type errorHandler struct{}

func (errorHandler) HandleDatagram(_ context.Context, _ []byte, _ *net.UDPAddr) ([]byte, error) {
	return nil, assert.AnError
}

// TestServerHandlerErrorsDoNotTerminate verifies a failing handler
// increments error_count without killing the loop.
func TestServerHandlerErrorsDoNotTerminate(t *testing.T) {
	s, addr := startServer(t, errorHandler{})

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)

	defer conn.Close()

	for i := 0; i < 3; i++ {
		_, err = conn.Write([]byte("x"))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		st := s.Statistics()

		return st.RequestCount == 3 && st.ErrorCount == 3
	}, 2*time.Second, 10*time.Millisecond)
}

// TestErrorResponse verifies the type-7 helper echoes the request's
// correlation ID and carries the status code and source extension.
func TestErrorResponse(t *testing.T) {
	req, err := packet.NewBuilder(1, packet.TypeQueryRequest).
		PacketID(999).
		AreaCode("130010").
		Timestamp(1700000000).
		Finalize()
	require.NoError(t, err)

	data := ErrorResponse(1, req.Bytes(), "402", "10.1.2.3:4000")
	require.NotNil(t, data)

	p, err := packet.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, packet.TypeError, p.Type)
	assert.Equal(t, uint16(999), p.PacketID)
	assert.Equal(t, "402", p.Ext.ErrorCode)
	assert.Equal(t, "10.1.2.3:4000", p.Ext.Source)
}
