// Package client implements the WIP client side: one UDP socket shared
// by many in-flight requests, a per-instance packet-ID generator and a
// response demultiplexer that hands each caller exactly the datagram
// matching its correlation ID.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/packet"
)

// receiveBufferSize bounds a single response datagram.
const receiveBufferSize = 4096

// ReceiveWithID is the blocking single-flight receive: it reads
// datagrams off the socket until one carries the expected correlation
// ID, discarding mismatches, and fails once the total timeout budget is
// spent. Use the Demux when several calls share the socket.
//
// Parameters:
//   - conn: The client's UDP socket
//   - expectedID: 12-bit correlation ID to wait for
//   - timeout: Total budget across all reads
//
// Returns:
//   - []byte: The matching datagram
//   - *net.UDPAddr: Its source address
//   - error: ProtocolError 421 with Timeout set on budget expiry
func ReceiveWithID(conn *net.UDPConn, expectedID uint16, timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, receiveBufferSize)

	for {
		if !time.Now().Before(deadline) {
			return nil, nil, timeoutError(expectedID)
		}

		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, err
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, nil, timeoutError(expectedID)
			}

			return nil, nil, err
		}

		if id, ok := packet.PeekPacketID(buf[:n]); ok && id == expectedID {
			data := make([]byte, n)
			copy(data, buf[:n])

			return data, addr, nil
		}
	}
}

// ReceiveWithIDContext is the cooperative variant of ReceiveWithID: the
// caller's context bounds the wait instead of a fixed timeout, so it
// composes with whatever scheduling model drives the caller.
func ReceiveWithIDContext(ctx context.Context, conn *net.UDPConn, expectedID uint16) ([]byte, *net.UDPAddr, error) {
	stop := context.AfterFunc(ctx, func() {
		// Wake the blocked read; the loop translates it below.
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, receiveBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, timeoutError(expectedID)
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, nil, timeoutError(expectedID)
			}

			return nil, nil, err
		}

		if id, ok := packet.PeekPacketID(buf[:n]); ok && id == expectedID {
			data := make([]byte, n)
			copy(data, buf[:n])

			return data, addr, nil
		}
	}
}

// Demux pumps a shared socket from one goroutine and routes each
// datagram to the caller waiting on its correlation ID. Callers that
// share a client therefore never steal each other's responses, and a
// datagram nobody waits for is dropped.
type Demux struct {
	conn   *net.UDPConn
	logger *zap.Logger

	mu      sync.Mutex
	waiters map[uint16]chan []byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDemux creates a demultiplexer over the client's socket and starts
// its pump.
func NewDemux(conn *net.UDPConn, logger *zap.Logger) *Demux {
	d := &Demux{
		conn:    conn,
		logger:  logger,
		waiters: make(map[uint16]chan []byte),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)

	go d.pump()

	return d
}

// pump reads the socket for the demux's lifetime.
func (d *Demux) pump() {
	defer d.wg.Done()

	buf := make([]byte, receiveBufferSize)

	for {
		select {
		case <-d.done:
			return
		default:
		}

		_ = d.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))

		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			d.logger.Debug("demux read error", zap.Error(err))

			continue
		}

		id, ok := packet.PeekPacketID(buf[:n])
		if !ok {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		d.mu.Lock()
		ch, waiting := d.waiters[id]
		d.mu.Unlock()

		if !waiting {
			d.logger.Debug("dropping unclaimed datagram", zap.Uint16("packet_id", id))

			continue
		}

		select {
		case ch <- data:
		default:
			// A second datagram for the same ID; the first wins.
		}
	}
}

// Register claims a correlation ID before its request is sent, so a
// response racing the caller to the socket is never dropped. The
// returned release func must be called exactly once.
func (d *Demux) Register(id uint16) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 1)

	d.mu.Lock()
	if _, exists := d.waiters[id]; exists {
		d.mu.Unlock()

		return nil, nil, domain.NewProtocolError(domain.CodeBadRequest,
			"packet ID %d already has a waiter", id)
	}

	d.waiters[id] = ch
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		delete(d.waiters, id)
		d.mu.Unlock()
	}

	return ch, release, nil
}

// Await parks the caller on a registered channel until its datagram
// arrives or ctx expires.
func (d *Demux) Await(ctx context.Context, id uint16, ch <-chan []byte) ([]byte, error) {
	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		return nil, timeoutError(id)
	case <-d.done:
		return nil, errors.New("demultiplexer stopped")
	}
}

// Wait registers, parks and releases in one call, for callers that send
// before any response can possibly arrive (or that tolerate the race).
func (d *Demux) Wait(ctx context.Context, id uint16) ([]byte, error) {
	ch, release, err := d.Register(id)
	if err != nil {
		return nil, err
	}

	defer release()

	return d.Await(ctx, id, ch)
}

// Stop halts the pump and waits for it to finish. The socket itself is
// closed by the owning client.
func (d *Demux) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})

	d.wg.Wait()
}

func timeoutError(id uint16) error {
	return &domain.ProtocolError{
		Code:    domain.CodeServerTimeout,
		Message: fmt.Sprintf("no response for packet ID %d", id),
		Timeout: true,
	}
}
