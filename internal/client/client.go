package client

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/packet"
)

// Client is a WIP protocol client. Each instance owns its socket, its
// packet-ID generator and its demultiplexer, so concurrent calls on one
// client are safe and independent clients share nothing.
type Client struct {
	cfg    *config.ClientConfig
	conn   *net.UDPConn
	gen    *packet.IDGenerator
	demux  *Demux
	logger *zap.Logger

	proxyAddr  *net.UDPAddr
	queryAddr  *net.UDPAddr
	reportAddr *net.UDPAddr
}

// QueryOptions selects the fields and day offset of a forecast query.
type QueryOptions struct {
	Flags packet.Flags
	Day   uint8

	// Direct skips the proxy and sends type-2 straight to the query
	// service. Coordinate queries always go through the proxy.
	Direct bool
}

// WeatherResult is the decoded field set of a type-3 response. Pointer
// fields are nil when the corresponding response flag was clear.
type WeatherResult struct {
	PacketID    uint16
	AreaCode    string
	WeatherCode *uint16
	Temperature *int
	POP         *uint8
	Alerts      []string
	Disasters   []string
}

// ReportOptions carries a sensor report's readings. Nil readings are
// omitted from the report.
type ReportOptions struct {
	AreaCode    string
	WeatherCode *int
	Temperature *float64
	POP         *int
}

// Ack is the decoded type-5 acknowledgement.
type Ack struct {
	PacketID  uint16
	AreaCode  string
	Timestamp int64
}

// New creates a client bound to an ephemeral local port.
//
// Parameters:
//   - cfg: Endpoints, protocol version, timeout and auth settings
//   - logger: Zap logger
//
// Returns:
//   - *Client: Ready client
//   - error: Socket bind or endpoint resolution failure
func New(cfg *config.ClientConfig, logger *zap.Logger) (*Client, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		gen:    packet.NewIDGenerator(uint8(cfg.Version)),
		logger: logger,
	}

	if c.proxyAddr, err = net.ResolveUDPAddr("udp", cfg.Proxy.Addr()); err != nil {
		_ = conn.Close()

		return nil, err
	}

	if c.queryAddr, err = net.ResolveUDPAddr("udp", cfg.Query.Addr()); err != nil {
		_ = conn.Close()

		return nil, err
	}

	if c.reportAddr, err = net.ResolveUDPAddr("udp", cfg.Report.Addr()); err != nil {
		_ = conn.Close()

		return nil, err
	}

	c.demux = NewDemux(conn, logger)

	return c, nil
}

// LocalAddr returns the client's bound address.
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Close stops the demultiplexer and releases the socket.
func (c *Client) Close() error {
	c.demux.Stop()

	return c.conn.Close()
}

// QueryByCoordinates resolves a coordinate through the proxy and
// returns the forecast for the area containing it (type 0 → type 3).
func (c *Client) QueryByCoordinates(ctx context.Context, lat, lon float64, opts QueryOptions) (*WeatherResult, error) {
	id := c.gen.NextID()

	b := packet.NewBuilder(uint8(c.cfg.Version), packet.TypeLocationRequest).
		PacketID(id).
		Flags(opts.Flags).
		Day(opts.Day).
		Coordinates(lat, lon)

	resp, err := c.exchange(ctx, c.sign(b), id, c.proxyAddr)
	if err != nil {
		return nil, err
	}

	return c.decodeWeather(resp)
}

// QueryByArea fetches the forecast for a known area code (type 2 →
// type 3), through the proxy by default or directly against the query
// service with opts.Direct.
func (c *Client) QueryByArea(ctx context.Context, areaCode string, opts QueryOptions) (*WeatherResult, error) {
	id := c.gen.NextID()

	b := packet.NewBuilder(uint8(c.cfg.Version), packet.TypeQueryRequest).
		PacketID(id).
		Flags(opts.Flags).
		Day(opts.Day).
		AreaCode(areaCode)

	dst := c.proxyAddr
	if opts.Direct {
		dst = c.queryAddr
	}

	resp, err := c.exchange(ctx, c.sign(b), id, dst)
	if err != nil {
		return nil, err
	}

	return c.decodeWeather(resp)
}

// SendReport submits a sensor report (type 4 → type 5).
func (c *Client) SendReport(ctx context.Context, opts ReportOptions) (*Ack, error) {
	id := c.gen.NextID()

	var flags packet.Flags

	b := packet.NewBuilder(uint8(c.cfg.Version), packet.TypeReportRequest).
		PacketID(id).
		AreaCode(opts.AreaCode)

	if opts.WeatherCode != nil {
		flags.Weather = true
		b.WeatherCode(uint16(*opts.WeatherCode))
	}

	if opts.Temperature != nil {
		flags.Temperature = true
		b.TemperatureCelsius(int(math.Round(*opts.Temperature)))
	}

	if opts.POP != nil {
		flags.POP = true

		if *opts.POP < 0 || *opts.POP > 100 {
			return nil, domain.NewProtocolError(domain.CodeSensorOutOfRange,
				"precipitation probability %d%% outside [0, 100]", *opts.POP)
		}

		b.POP(uint8(*opts.POP))
	}

	b.Flags(flags)

	resp, err := c.exchange(ctx, c.sign(b), id, c.reportAddr)
	if err != nil {
		return nil, err
	}

	if resp.Type != packet.TypeReportAck {
		return nil, domain.NewProtocolError(domain.CodeBadRequest,
			"unexpected response type %s", resp.Type)
	}

	return &Ack{
		PacketID:  resp.PacketID,
		AreaCode:  resp.AreaCode(),
		Timestamp: resp.Timestamp,
	}, nil
}

// sign applies request authentication when the client is configured
// for it.
func (c *Client) sign(b *packet.Builder) *packet.Builder {
	if c.cfg.Auth.Enabled && c.cfg.Auth.RequestAuthEnabled && c.cfg.Auth.Passphrase != "" {
		b.RequestAuth(true).Authenticate(c.cfg.Auth.Passphrase)
	}

	return b
}

// exchange finalizes and sends a request, then parks on the demux until
// the response with the same packet ID arrives. Send failures map to
// 420, timeouts to 421 and type-7 responses to their carried code.
func (c *Client) exchange(ctx context.Context, b *packet.Builder, id uint16, dst *net.UDPAddr) (*packet.Packet, error) {
	req, err := b.Finalize()
	if err != nil {
		return nil, err
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)

		defer cancel()
	}

	start := time.Now()

	// Claim the ID before sending so a response cannot slip past the
	// demultiplexer while this goroutine is between send and wait.
	ch, release, err := c.demux.Register(id)
	if err != nil {
		return nil, err
	}

	defer release()

	if _, err := c.conn.WriteToUDP(req.Bytes(), dst); err != nil {
		return nil, domain.WrapProtocolError(domain.CodeServerUnreachable, err,
			"send to %s failed", dst.String())
	}

	data, err := c.demux.Await(ctx, id, ch)
	if err != nil {
		return nil, err
	}

	resp, err := packet.Parse(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response received",
		zap.Uint16("packet_id", id),
		zap.Stringer("type", resp.Type),
		zap.Duration("rtt", time.Since(start)))

	if resp.Type == packet.TypeError {
		code := domain.ErrorCode(resp.Ext.ErrorCode)
		if code == "" {
			code = domain.CodeInternal
		}

		return nil, domain.NewProtocolError(code, "server rejected the request")
	}

	if err := c.verifyResponseAuth(resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// verifyResponseAuth checks the server's hash when the client expects
// authenticated responses.
func (c *Client) verifyResponseAuth(resp *packet.Packet) error {
	if !c.cfg.Auth.Enabled || !c.cfg.Auth.ResponseAuthEnabled {
		return nil
	}

	if !packet.VerifyPacketAuth(resp, c.cfg.Auth.Passphrase) {
		return domain.NewProtocolError(domain.CodeAuthFailed, "response authentication failed")
	}

	return nil
}

// decodeWeather maps a type-3 response onto the result struct,
// converting the temperature byte back to Celsius.
func (c *Client) decodeWeather(resp *packet.Packet) (*WeatherResult, error) {
	if resp.Type != packet.TypeQueryResponse {
		return nil, domain.NewProtocolError(domain.CodeBadRequest,
			"unexpected response type %s", resp.Type)
	}

	result := &WeatherResult{
		PacketID:  resp.PacketID,
		AreaCode:  resp.AreaCode(),
		Alerts:    resp.Ext.Alerts,
		Disasters: resp.Ext.Disasters,
	}

	if resp.Flags.Weather {
		v := resp.WeatherCode
		result.WeatherCode = &v
	}

	if resp.Flags.Temperature {
		v := resp.TemperatureCelsius()
		result.Temperature = &v
	}

	if resp.Flags.POP {
		v := resp.POP
		result.POP = &v
	}

	return result, nil
}

// IsTimeout reports whether err is the client-side timeout (code 421).
func IsTimeout(err error) bool {
	var perr *domain.ProtocolError

	return errors.As(err, &perr) && perr.Timeout
}
