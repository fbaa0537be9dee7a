package udp

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
	"github.com/wipnet/wip/internal/core/services"
	"github.com/wipnet/wip/internal/infrastructure/cache"
	"github.com/wipnet/wip/internal/packet"
)

var testSrc = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 50000}

// staticResolver resolves every coordinate to one area code.
type staticResolver struct {
	areaCode string
	err      error
}

func (r staticResolver) Resolve(_ context.Context, _, _ float64) (string, bool, error) {
	return r.areaCode, r.areaCode != "", r.err
}

// staticRepo serves one weather document for every area.
type staticRepo struct {
	doc *domain.WeatherDocument
}

func (r staticRepo) Document(_ context.Context, _ string) (*domain.WeatherDocument, error) {
	return r.doc, nil
}

func (r staticRepo) SaveDocument(_ context.Context, _ string, _ *domain.WeatherDocument, _ domain.UpdateStamp) error {
	return nil
}

func (r staticRepo) Stamp(_ context.Context, _ string) (*domain.UpdateStamp, error) {
	return nil, nil
}

// memoryReports collects saved reports.
type memoryReports struct {
	saved []*domain.SensorReport
}

func (m *memoryReports) SaveReport(_ context.Context, r *domain.SensorReport) error {
	m.saved = append(m.saved, r)

	return nil
}

func (m *memoryReports) LastReport(_ context.Context, _ string) (*domain.SensorReport, error) {
	if len(m.saved) == 0 {
		return nil, nil
	}

	return m.saved[len(m.saved)-1], nil
}

func newLocationHandlerForTest(t *testing.T, auth config.AuthConfig) *LocationHandler {
	t.Helper()

	coordCache, err := cache.NewCoordinateCache(16)
	require.NoError(t, err)

	svc := services.NewLocationService(staticResolver{areaCode: "130010"}, coordCache, nil, zap.NewNop())

	return NewLocationHandler(svc, 1, auth, zap.NewNop())
}

// handleAndParse runs a handler and parses whatever it answered.
func handleAndParse(t *testing.T, h interface {
	HandleDatagram(context.Context, []byte, *net.UDPAddr) ([]byte, error)
}, data []byte) *packet.Packet {
	t.Helper()

	resp, _ := h.HandleDatagram(context.Background(), data, testSrc)
	require.NotNil(t, resp)

	p, err := packet.Parse(resp)
	require.NoError(t, err)

	return p
}

// TestLocationHandlerResolves verifies the type-0 → type-1 happy path
// with source and coordinate echo.
func TestLocationHandlerResolves(t *testing.T) {
	h := newLocationHandlerForTest(t, config.AuthConfig{})

	req, err := packet.NewBuilder(1, packet.TypeLocationRequest).
		PacketID(21).
		Coordinates(35.6895, 139.6917).
		Flags(packet.Flags{Weather: true}).
		Source("10.0.0.5:12345").
		Finalize()
	require.NoError(t, err)

	resp := handleAndParse(t, h, req.Bytes())

	assert.Equal(t, packet.TypeLocationResponse, resp.Type)
	assert.Equal(t, uint16(21), resp.PacketID)
	assert.Equal(t, "130010", resp.AreaCode())
	assert.Equal(t, "10.0.0.5:12345", resp.Ext.Source, "source echoes unmodified")
	assert.Equal(t, packet.Flags{Weather: true}, resp.Flags)

	lat, lon, ok := resp.Ext.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 35.6895, lat, 1e-6)
	assert.InDelta(t, 139.6917, lon, 1e-6)
}

// TestLocationHandlerValidation covers the 406/405/402 rejects.
func TestLocationHandlerValidation(t *testing.T) {
	h := newLocationHandlerForTest(t, config.AuthConfig{})

	tests := []struct {
		name     string
		build    func() *packet.Builder
		wantCode string
	}{
		{
			name: "version mismatch",
			build: func() *packet.Builder {
				return packet.NewBuilder(2, packet.TypeLocationRequest).
					PacketID(1).Coordinates(35, 139)
			},
			wantCode: "406",
		},
		{
			name: "wrong type",
			build: func() *packet.Builder {
				return packet.NewBuilder(1, packet.TypeQueryRequest).
					PacketID(1).AreaCode("130010")
			},
			wantCode: "405",
		},
		{
			name: "missing coordinates",
			build: func() *packet.Builder {
				return packet.NewBuilder(1, packet.TypeLocationRequest).PacketID(1)
			},
			wantCode: "402",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.build().Finalize()
			require.NoError(t, err)

			resp := handleAndParse(t, h, req.Bytes())

			assert.Equal(t, packet.TypeError, resp.Type)
			assert.Equal(t, tt.wantCode, resp.Ext.ErrorCode)
		})
	}
}

func newQueryHandlerForTest(t *testing.T, doc *domain.WeatherDocument, auth config.AuthConfig) *QueryHandler {
	t.Helper()

	svc := services.NewQueryService(staticRepo{doc: doc},
		cache.NewMemoryCache(time.Minute, time.Minute, zap.NewNop()), time.Minute, zap.NewNop())

	return NewQueryHandler(svc, 1, auth, zap.NewNop())
}

// TestQueryHandlerServes verifies the type-2 → type-3 happy path.
func TestQueryHandlerServes(t *testing.T) {
	doc := &domain.WeatherDocument{
		Weather:           []int{100},
		Temperature:       []int{25},
		PrecipitationProb: []int{30},
	}

	h := newQueryHandlerForTest(t, doc, config.AuthConfig{})

	req, err := packet.NewBuilder(1, packet.TypeQueryRequest).
		PacketID(42).
		AreaCode("130010").
		Flags(packet.Flags{Weather: true, Temperature: true, POP: true}).
		Source("10.0.0.5:12345").
		Finalize()
	require.NoError(t, err)

	resp := handleAndParse(t, h, req.Bytes())

	assert.Equal(t, packet.TypeQueryResponse, resp.Type)
	assert.Equal(t, uint16(42), resp.PacketID)
	assert.Equal(t, uint16(100), resp.WeatherCode)
	assert.Equal(t, uint8(125), resp.Temperature)
	assert.Equal(t, uint8(30), resp.POP)
	assert.Equal(t, "10.0.0.5:12345", resp.Ext.Source, "source must survive for the proxy hop")
}

// TestQueryHandlerValidation covers 406/405/402/400.
func TestQueryHandlerValidation(t *testing.T) {
	h := newQueryHandlerForTest(t, nil, config.AuthConfig{})

	tests := []struct {
		name     string
		build    func() *packet.Builder
		wantCode string
	}{
		{
			name: "version mismatch",
			build: func() *packet.Builder {
				return packet.NewBuilder(2, packet.TypeQueryRequest).
					PacketID(1).AreaCode("130010").Flags(packet.Flags{Weather: true})
			},
			wantCode: "406",
		},
		{
			name: "wrong type",
			build: func() *packet.Builder {
				return packet.NewBuilder(1, packet.TypeLocationRequest).
					PacketID(1).Coordinates(35, 139)
			},
			wantCode: "405",
		},
		{
			name: "zero area code",
			build: func() *packet.Builder {
				return packet.NewBuilder(1, packet.TypeQueryRequest).
					PacketID(1).Flags(packet.Flags{Weather: true})
			},
			wantCode: "402",
		},
		{
			name: "no flags selected",
			build: func() *packet.Builder {
				return packet.NewBuilder(1, packet.TypeQueryRequest).
					PacketID(1).AreaCode("130010")
			},
			wantCode: "400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.build().Finalize()
			require.NoError(t, err)

			resp := handleAndParse(t, h, req.Bytes())

			assert.Equal(t, packet.TypeError, resp.Type)
			assert.Equal(t, tt.wantCode, resp.Ext.ErrorCode)
		})
	}
}

// TestQueryHandlerAuth verifies 401 on a missing or mismatched hash and
// acceptance with the shared passphrase.
func TestQueryHandlerAuth(t *testing.T) {
	auth := config.AuthConfig{Enabled: true, Passphrase: "P"}
	h := newQueryHandlerForTest(t, &domain.WeatherDocument{Weather: []int{100}}, auth)

	build := func(passphrase string) []byte {
		b := packet.NewBuilder(1, packet.TypeQueryRequest).
			PacketID(9).
			AreaCode("130010").
			Flags(packet.Flags{Weather: true}).
			RequestAuth(true)

		if passphrase != "" {
			b.Authenticate(passphrase)
		}

		p, err := b.Finalize()
		require.NoError(t, err)

		return p.Bytes()
	}

	resp := handleAndParse(t, h, build("P"))
	assert.Equal(t, packet.TypeQueryResponse, resp.Type)

	resp = handleAndParse(t, h, build("Q"))
	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, "401", resp.Ext.ErrorCode)

	resp = handleAndParse(t, h, build(""))
	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, "401", resp.Ext.ErrorCode)
}

func newReportHandlerForTest(t *testing.T, repo *memoryReports, auth config.AuthConfig, maxSize int) *ReportHandler {
	t.Helper()

	svc := services.NewReportService(repo, nil, zap.NewNop())

	return NewReportHandler(svc, 1, auth, maxSize, zap.NewNop())
}

func buildReportPacket(t *testing.T, temperatureC int) []byte {
	t.Helper()

	p, err := packet.NewBuilder(1, packet.TypeReportRequest).
		PacketID(77).
		AreaCode("011000").
		Flags(packet.Flags{Weather: true, Temperature: true, POP: true}).
		WeatherCode(100).
		TemperatureCelsius(temperatureC).
		POP(30).
		Finalize()
	require.NoError(t, err)

	return p.Bytes()
}

// TestReportHandlerAck verifies the type-4 → type-5 happy path: the ACK
// echoes packet ID and readings, and the report is persisted.
func TestReportHandlerAck(t *testing.T) {
	repo := &memoryReports{}
	h := newReportHandlerForTest(t, repo, config.AuthConfig{}, 4096)

	resp := handleAndParse(t, h, buildReportPacket(t, 26))

	assert.Equal(t, packet.TypeReportAck, resp.Type)
	assert.Equal(t, uint16(77), resp.PacketID)
	assert.Equal(t, "011000", resp.AreaCode())
	assert.Equal(t, uint8(126), resp.Temperature)

	require.Len(t, repo.saved, 1)
	saved := repo.saved[0]
	assert.NotEmpty(t, saved.ID)
	require.NotNil(t, saved.Temperature)
	assert.Equal(t, 26, *saved.Temperature)
}

// TestReportHandlerSizeLimit verifies oversize datagrams answer 413
// before any parsing.
func TestReportHandlerSizeLimit(t *testing.T) {
	h := newReportHandlerForTest(t, &memoryReports{}, config.AuthConfig{}, 32)

	big := make([]byte, 64)
	resp, _ := h.HandleDatagram(context.Background(), big, testSrc)
	require.NotNil(t, resp)

	p, err := packet.Parse(resp)
	require.NoError(t, err)
	assert.Equal(t, "413", p.Ext.ErrorCode)
}

// TestReportHandlerSensorRange verifies 422 for out-of-range readings.
func TestReportHandlerSensorRange(t *testing.T) {
	h := newReportHandlerForTest(t, &memoryReports{}, config.AuthConfig{}, 4096)

	resp := handleAndParse(t, h, buildReportPacket(t, 61))

	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, "422", resp.Ext.ErrorCode)
}

// TestReportHandlerStaleTimestamp verifies the clock-skew window.
func TestReportHandlerStaleTimestamp(t *testing.T) {
	h := newReportHandlerForTest(t, &memoryReports{}, config.AuthConfig{}, 4096)

	p, err := packet.NewBuilder(1, packet.TypeReportRequest).
		PacketID(5).
		AreaCode("011000").
		Flags(packet.Flags{Temperature: true}).
		TemperatureCelsius(20).
		Timestamp(time.Now().Unix() - 7200).
		Finalize()
	require.NoError(t, err)

	resp := handleAndParse(t, h, p.Bytes())

	assert.Equal(t, packet.TypeError, resp.Type)
	assert.Equal(t, "422", resp.Ext.ErrorCode)
}

// TestReportHandlerResponseAuth verifies the ACK carries a valid hash
// when response auth is enabled.
func TestReportHandlerResponseAuth(t *testing.T) {
	auth := config.AuthConfig{
		Enabled:             true,
		Passphrase:          "P",
		ResponseAuthEnabled: true,
	}

	h := newReportHandlerForTest(t, &memoryReports{}, auth, 4096)

	b := packet.NewBuilder(1, packet.TypeReportRequest).
		PacketID(8).
		AreaCode("011000").
		Flags(packet.Flags{Temperature: true}).
		TemperatureCelsius(25).
		RequestAuth(true).
		Authenticate("P")

	req, err := b.Finalize()
	require.NoError(t, err)

	resp := handleAndParse(t, h, req.Bytes())

	assert.Equal(t, packet.TypeReportAck, resp.Type)
	assert.True(t, resp.ResponseAuth)
	assert.True(t, packet.VerifyPacketAuth(resp, "P"))
}
