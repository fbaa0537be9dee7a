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

// LocationHandler serves type-0 coordinate resolution requests and
// answers with type-1 responses bearing the resolved area code.
type LocationHandler struct {
	svc     *services.LocationService
	version int
	auth    config.AuthConfig
	logger  *zap.Logger
}

// NewLocationHandler creates the location endpoint handler.
func NewLocationHandler(svc *services.LocationService, version int, auth config.AuthConfig, logger *zap.Logger) *LocationHandler {
	return &LocationHandler{
		svc:     svc,
		version: version,
		auth:    auth,
		logger:  logger,
	}
}

// HandleDatagram processes one location request.
func (h *LocationHandler) HandleDatagram(ctx context.Context, data []byte, src *net.UDPAddr) ([]byte, error) {
	req, err := packet.Parse(data)
	if err != nil {
		return errorReply(h.version, data, err)
	}

	if err := h.validate(req); err != nil {
		return errorReply(h.version, data, err)
	}

	lat, lon, _ := req.Ext.Coordinates()

	areaCode, err := h.svc.ResolveArea(ctx, lat, lon)
	if err != nil {
		return errorReply(h.version, data, err)
	}

	resp := packet.NewBuilder(uint8(h.version), packet.TypeLocationResponse).
		PacketID(req.PacketID).
		Flags(req.Flags).
		Day(req.Day).
		AreaCode(areaCode).
		Coordinates(lat, lon)

	// The source rides every hop so the proxy can route the final
	// response without per-request state.
	if req.Ext.Source != "" {
		resp.Source(req.Ext.Source)
	}

	p, err := signResponse(resp, h.auth).Finalize()
	if err != nil {
		return errorReply(h.version, data, err)
	}

	return p.Bytes(), nil
}

func (h *LocationHandler) validate(req *packet.Packet) error {
	if err := checkAuth(req, h.auth); err != nil {
		return err
	}

	if int(req.Version) != h.version {
		return domain.NewProtocolError(domain.CodeVersionRejected,
			"version mismatch (expected %d, got %d)", h.version, req.Version)
	}

	if req.Type != packet.TypeLocationRequest {
		return domain.NewProtocolError(domain.CodeUnsupportedType,
			"unsupported packet type %d for this endpoint", req.Type)
	}

	if _, _, ok := req.Ext.Coordinates(); !ok {
		return domain.NewProtocolError(domain.CodeAreaUnresolved,
			"request carries no coordinate extension")
	}

	return nil
}
