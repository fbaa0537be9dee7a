package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/packet"
)

// fakeService answers each received packet through respond.
func fakeService(t *testing.T, respond func(req *packet.Packet) *packet.Builder) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 4096)

		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}

			req, err := packet.Parse(buf[:n])
			if err != nil {
				continue
			}

			b := respond(req)
			if b == nil {
				continue
			}

			resp, err := b.Finalize()
			if err != nil {
				continue
			}

			_, _ = conn.WriteToUDP(resp.Bytes(), src)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func newTestClient(t *testing.T, service *net.UDPAddr, auth config.AuthConfig) *Client {
	t.Helper()

	ep := config.Endpoint{Host: "127.0.0.1", Port: service.Port}

	c, err := New(&config.ClientConfig{
		Proxy:   ep,
		Query:   ep,
		Report:  ep,
		Version: 1,
		Timeout: 2 * time.Second,
		Auth:    auth,
	}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}

// TestClientQueryByArea verifies the direct type-2 round trip and the
// temperature decode.
func TestClientQueryByArea(t *testing.T) {
	service := fakeService(t, func(req *packet.Packet) *packet.Builder {
		return packet.NewBuilder(req.Version, packet.TypeQueryResponse).
			PacketID(req.PacketID).
			Flags(req.Flags).
			AreaCode(req.AreaCode()).
			WeatherCode(100).
			TemperatureRaw(125).
			POP(30)
	})

	c := newTestClient(t, service, config.AuthConfig{})

	result, err := c.QueryByArea(context.Background(), "130010", QueryOptions{
		Flags:  packet.Flags{Weather: true, Temperature: true, POP: true},
		Direct: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "130010", result.AreaCode)
	require.NotNil(t, result.WeatherCode)
	assert.Equal(t, uint16(100), *result.WeatherCode)
	require.NotNil(t, result.Temperature)
	assert.Equal(t, 25, *result.Temperature)
	require.NotNil(t, result.POP)
	assert.Equal(t, uint8(30), *result.POP)
}

// TestClientErrorResponse verifies a type-7 answer surfaces as a
// ProtocolError with the carried code.
func TestClientErrorResponse(t *testing.T) {
	service := fakeService(t, func(req *packet.Packet) *packet.Builder {
		return packet.NewBuilder(req.Version, packet.TypeError).
			PacketID(req.PacketID).
			ErrorCode("402")
	})

	c := newTestClient(t, service, config.AuthConfig{})

	_, err := c.QueryByArea(context.Background(), "130010", QueryOptions{
		Flags:  packet.Flags{Weather: true},
		Direct: true,
	})

	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.CodeAreaUnresolved, perr.Code)
}

// TestClientTimeout verifies a silent server yields the 421 timeout.
func TestClientTimeout(t *testing.T) {
	service := fakeService(t, func(req *packet.Packet) *packet.Builder {
		return nil // never answer
	})

	ep := config.Endpoint{Host: "127.0.0.1", Port: service.Port}

	c, err := New(&config.ClientConfig{
		Proxy:   ep,
		Query:   ep,
		Report:  ep,
		Version: 1,
		Timeout: 150 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	defer c.Close()

	_, err = c.QueryByArea(context.Background(), "130010", QueryOptions{
		Flags:  packet.Flags{Weather: true},
		Direct: true,
	})

	assert.True(t, IsTimeout(err))
}

// TestClientSendReport verifies the type-4/type-5 exchange including
// request authentication.
func TestClientSendReport(t *testing.T) {
	const passphrase = "P"

	service := fakeService(t, func(req *packet.Packet) *packet.Builder {
		if req.Type != packet.TypeReportRequest {
			return nil
		}

		if !packet.VerifyPacketAuth(req, passphrase) {
			return packet.NewBuilder(req.Version, packet.TypeError).
				PacketID(req.PacketID).
				ErrorCode("401")
		}

		return packet.NewBuilder(req.Version, packet.TypeReportAck).
			PacketID(req.PacketID).
			Flags(req.Flags).
			AreaCode(req.AreaCode()).
			WeatherCode(req.WeatherCode).
			TemperatureRaw(req.Temperature).
			POP(req.POP)
	})

	c := newTestClient(t, service, config.AuthConfig{
		Enabled:            true,
		Passphrase:         passphrase,
		RequestAuthEnabled: true,
	})

	temp := 25.5
	weather := 100
	pop := 30

	ack, err := c.SendReport(context.Background(), ReportOptions{
		AreaCode:    "011000",
		WeatherCode: &weather,
		Temperature: &temp,
		POP:         &pop,
	})
	require.NoError(t, err)
	assert.Equal(t, "011000", ack.AreaCode)
}

// TestClientSendReportWrongPassphrase verifies the 401 path.
func TestClientSendReportWrongPassphrase(t *testing.T) {
	service := fakeService(t, func(req *packet.Packet) *packet.Builder {
		if !packet.VerifyPacketAuth(req, "P") {
			return packet.NewBuilder(req.Version, packet.TypeError).
				PacketID(req.PacketID).
				ErrorCode("401")
		}

		return packet.NewBuilder(req.Version, packet.TypeReportAck).
			PacketID(req.PacketID).
			AreaCode(req.AreaCode())
	})

	c := newTestClient(t, service, config.AuthConfig{
		Enabled:            true,
		Passphrase:         "Q",
		RequestAuthEnabled: true,
	})

	weather := 100

	_, err := c.SendReport(context.Background(), ReportOptions{
		AreaCode:    "011000",
		WeatherCode: &weather,
	})

	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.CodeAuthFailed, perr.Code)
}
