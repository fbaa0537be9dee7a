package udp

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/services"
	"github.com/wipnet/wip/internal/packet"
)

// QueryHandler serves type-2 forecast requests and answers with type-3
// responses carrying the fixed forecast block and hazard extensions.
type QueryHandler struct {
	svc     *services.QueryService
	version int
	auth    config.AuthConfig
	logger  *zap.Logger
}

// NewQueryHandler creates the query endpoint handler.
func NewQueryHandler(svc *services.QueryService, version int, auth config.AuthConfig, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		svc:     svc,
		version: version,
		auth:    auth,
		logger:  logger,
	}
}

// HandleDatagram processes one forecast request.
func (h *QueryHandler) HandleDatagram(ctx context.Context, data []byte, src *net.UDPAddr) ([]byte, error) {
	req, err := packet.Parse(data)
	if err != nil {
		return errorReply(h.version, data, err)
	}

	if err := h.validate(req); err != nil {
		return errorReply(h.version, data, err)
	}

	bundle, cached, err := h.svc.Forecast(ctx, services.ForecastQuery{
		AreaCode: req.AreaCode(),
		Day:      req.Day,
		Flags:    req.Flags,
	})
	if err != nil {
		return errorReply(h.version, data, err)
	}

	resp := packet.NewBuilder(uint8(h.version), packet.TypeQueryResponse).
		PacketID(req.PacketID).
		Flags(req.Flags).
		Day(req.Day).
		AreaCode(req.AreaCode()).
		WeatherCode(bundle.WeatherCode).
		TemperatureRaw(bundle.Temperature).
		POP(bundle.POP)

	if req.Flags.Alert {
		resp.Alerts(bundle.Alerts)
	}

	if req.Flags.Disaster {
		resp.Disasters(bundle.Disasters)
	}

	// Coordinates and source ride back so the proxy can echo the one
	// and route by the other.
	if lat, lon, ok := req.Ext.Coordinates(); ok {
		resp.Coordinates(lat, lon)
	}

	if req.Ext.Source != "" {
		resp.Source(req.Ext.Source)
	}

	p, err := signResponse(resp, h.auth).Finalize()
	if err != nil {
		return errorReply(h.version, data, err)
	}

	h.logger.Debug("forecast request served",
		zap.String("area_code", req.AreaCode()),
		zap.Uint16("packet_id", req.PacketID),
		zap.Bool("cache_hit", cached))

	return p.Bytes(), nil
}

func (h *QueryHandler) validate(req *packet.Packet) error {
	if err := checkAuth(req, h.auth); err != nil {
		return err
	}

	if int(req.Version) != h.version {
		return domain.NewProtocolError(domain.CodeVersionRejected,
			"version mismatch (expected %d, got %d)", h.version, req.Version)
	}

	if req.Type != packet.TypeQueryRequest {
		return domain.NewProtocolError(domain.CodeUnsupportedType,
			"unsupported packet type %d for this endpoint", req.Type)
	}

	if req.AreaCode() == zeroAreaCode {
		return domain.NewProtocolError(domain.CodeAreaUnresolved, "area code is unset")
	}

	if !req.Flags.Any() {
		return domain.NewProtocolError(domain.CodeBadRequest, "request selects no data fields")
	}

	return nil
}
