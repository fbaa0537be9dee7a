package udp

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/services"
	"github.com/wipnet/wip/internal/packet"
)

// ReportHandler serves type-4 sensor reports and answers with type-5
// ACKs echoing the reported readings.
type ReportHandler struct {
	svc     *services.ReportService
	version int
	auth    config.AuthConfig
	maxSize int
	logger  *zap.Logger
}

// NewReportHandler creates the report ingestion handler.
func NewReportHandler(svc *services.ReportService, version int, auth config.AuthConfig, maxSize int, logger *zap.Logger) *ReportHandler {
	if maxSize <= 0 {
		maxSize = 4096
	}

	return &ReportHandler{
		svc:     svc,
		version: version,
		auth:    auth,
		maxSize: maxSize,
		logger:  logger,
	}
}

// HandleDatagram processes one sensor report. Validation order: size,
// version, auth, type, area code, then sensor ranges inside the service.
func (h *ReportHandler) HandleDatagram(ctx context.Context, data []byte, src *net.UDPAddr) ([]byte, error) {
	if len(data) > h.maxSize {
		return errorReply(h.version, data,
			domain.NewProtocolError(domain.CodeReportTooLarge,
				"report is %d bytes, limit %d", len(data), h.maxSize))
	}

	req, err := packet.Parse(data)
	if err != nil {
		return errorReply(h.version, data, err)
	}

	if err := h.validate(req); err != nil {
		return errorReply(h.version, data, err)
	}

	now := time.Now().Unix()

	report := h.buildReport(req)
	if err := h.svc.Ingest(ctx, report, now); err != nil {
		return errorReply(h.version, data, err)
	}

	ack := packet.NewBuilder(uint8(h.version), packet.TypeReportAck).
		PacketID(req.PacketID).
		Flags(req.Flags).
		AreaCode(req.AreaCode()).
		WeatherCode(req.WeatherCode).
		TemperatureRaw(req.Temperature).
		POP(req.POP).
		Timestamp(now)

	p, err := signResponse(ack, h.auth).Finalize()
	if err != nil {
		return errorReply(h.version, data, err)
	}

	h.logger.Debug("report acknowledged",
		zap.String("area_code", req.AreaCode()),
		zap.Uint16("packet_id", req.PacketID),
		zap.String("src", src.String()))

	return p.Bytes(), nil
}

func (h *ReportHandler) validate(req *packet.Packet) error {
	if int(req.Version) != h.version {
		return domain.NewProtocolError(domain.CodeVersionRejected,
			"version mismatch (expected %d, got %d)", h.version, req.Version)
	}

	if err := checkAuth(req, h.auth); err != nil {
		return err
	}

	if req.Type != packet.TypeReportRequest {
		return domain.NewProtocolError(domain.CodeUnsupportedType,
			"unsupported packet type %d for this endpoint", req.Type)
	}

	if req.AreaCode() == zeroAreaCode {
		return domain.NewProtocolError(domain.CodeAreaUnresolved, "area code is unset")
	}

	return nil
}

// buildReport lifts the fixed sensor block into a domain report. Flags
// mark which readings the sensor actually supplied.
func (h *ReportHandler) buildReport(req *packet.Packet) *domain.SensorReport {
	report := &domain.SensorReport{
		AreaCode:  req.AreaCode(),
		Timestamp: req.Timestamp,
	}

	if req.Flags.Weather {
		v := int(req.WeatherCode)
		report.WeatherCode = &v
	}

	if req.Flags.Temperature {
		v := req.TemperatureCelsius()
		report.Temperature = &v
	}

	if req.Flags.POP {
		v := int(req.POP)
		report.PrecipitationProb = &v
	}

	return report
}
