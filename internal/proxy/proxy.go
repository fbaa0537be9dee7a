// Package proxy implements the weather proxy: a stateless router that
// fans a client's request across the location and query services and
// returns the final response to the originating client. Every hop
// carries the client's address in the source extension, so any worker
// can handle any hop and the proxy keeps no per-request state.
package proxy

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/packet"
	"github.com/wipnet/wip/internal/server"
)

// Sender transmits datagrams from the proxy's own socket, so downstream
// services reply to the proxy's port.
type Sender interface {
	SendTo(data []byte, addr *net.UDPAddr) error
}

// Config names the downstream endpoints.
type Config struct {
	Version      int
	LocationAddr *net.UDPAddr
	QueryAddr    *net.UDPAddr
}

// Proxy routes packets by type. It implements server.Handler; replies
// to the datagram's source are only produced for validation failures,
// everything else leaves through Sender toward another hop.
type Proxy struct {
	cfg    Config
	sender Sender
	logger *zap.Logger
}

// New creates the proxy router. The sender is attached afterwards
// because the server that owns the socket is built around the handler.
func New(cfg Config, logger *zap.Logger) *Proxy {
	return &Proxy{cfg: cfg, logger: logger}
}

// AttachSender wires the owning server's socket in before Run.
func (p *Proxy) AttachSender(s Sender) {
	p.sender = s
}

// HandleDatagram dispatches one datagram through the routing state
// machine.
//
// Type 0/2: inject the client's source address, forward downstream.
// Type 1: convert to a type-2 query request, forward to the query service.
// Type 3: strip the source extension and deliver to the client it names.
// Type 7: deliver toward the source if present, otherwise drop.
func (p *Proxy) HandleDatagram(_ context.Context, data []byte, src *net.UDPAddr) ([]byte, error) {
	pkt, err := packet.Parse(data)
	if err != nil {
		// Answer the sender directly; an unparseable packet names no
		// other destination.
		return server.ErrorResponse(uint8(p.cfg.Version), data, string(domain.CodeBadRequest), ""), err
	}

	if int(pkt.Version) != p.cfg.Version {
		err := domain.NewProtocolError(domain.CodeVersionRejected,
			"version mismatch (expected %d, got %d)", p.cfg.Version, pkt.Version)

		return server.ErrorResponse(uint8(p.cfg.Version), data, string(err.Code), ""), err
	}

	switch pkt.Type {
	case packet.TypeLocationRequest:
		return nil, p.forwardWithSource(pkt, src, p.cfg.LocationAddr)
	case packet.TypeLocationResponse:
		return nil, p.relayLocationResponse(pkt)
	case packet.TypeQueryRequest:
		return nil, p.forwardWithSource(pkt, src, p.cfg.QueryAddr)
	case packet.TypeQueryResponse:
		return nil, p.deliverToClient(pkt, packet.TypeQueryResponse)
	case packet.TypeError:
		return nil, p.deliverToClient(pkt, packet.TypeError)
	default:
		err := domain.NewProtocolError(domain.CodeUnsupportedType,
			"unsupported packet type %d for this endpoint", pkt.Type)

		return server.ErrorResponse(uint8(p.cfg.Version), data, string(err.Code), ""), err
	}
}

// forwardWithSource stamps the originating client's address into the
// variable extensions and forwards the packet downstream.
func (p *Proxy) forwardWithSource(pkt *packet.Packet, src *net.UDPAddr, dst *net.UDPAddr) error {
	out, err := packet.Rebuild(pkt).Source(src.String()).Finalize()
	if err != nil {
		return err
	}

	p.logger.Debug("forwarding request",
		zap.Stringer("type", pkt.Type),
		zap.Uint16("packet_id", pkt.PacketID),
		zap.String("source", src.String()),
		zap.String("dst", dst.String()))

	return p.sender.SendTo(out.Bytes(), dst)
}

// relayLocationResponse converts a resolved type-1 into the type-2 query
// request for the next hop, keeping the client's flags, day, coordinates
// and source.
func (p *Proxy) relayLocationResponse(pkt *packet.Packet) error {
	if pkt.Ext.Source == "" {
		p.logger.Warn("location response without source dropped",
			zap.Uint16("packet_id", pkt.PacketID))

		return domain.NewProtocolError(domain.CodeBadRequest, "location response carries no source")
	}

	out, err := packet.Rebuild(pkt).Type(packet.TypeQueryRequest).Finalize()
	if err != nil {
		return err
	}

	p.logger.Debug("relaying resolved area to query service",
		zap.Uint16("packet_id", pkt.PacketID),
		zap.String("area_code", pkt.AreaCode()),
		zap.String("dst", p.cfg.QueryAddr.String()))

	return p.sender.SendTo(out.Bytes(), p.cfg.QueryAddr)
}

// deliverToClient reads the source extension, strips it and sends the
// packet to the address it named. A missing source cannot be attributed
// to any client, so the datagram is logged and dropped.
func (p *Proxy) deliverToClient(pkt *packet.Packet, t packet.Type) error {
	source := pkt.Ext.Source
	if source == "" {
		p.logger.Warn("response without source dropped",
			zap.Stringer("type", pkt.Type),
			zap.Uint16("packet_id", pkt.PacketID))

		return domain.NewProtocolError(domain.CodeBadRequest, "response carries no source")
	}

	clientAddr, err := net.ResolveUDPAddr("udp", source)
	if err != nil {
		p.logger.Warn("response with unparseable source dropped",
			zap.String("source", source),
			zap.Error(err))

		return domain.WrapProtocolError(domain.CodeBadRequest, err, "source %q is not ip:port", source)
	}

	out, err := packet.Rebuild(pkt).Type(t).ClearSource().Finalize()
	if err != nil {
		return err
	}

	p.logger.Debug("delivering response to client",
		zap.Stringer("type", t),
		zap.Uint16("packet_id", pkt.PacketID),
		zap.String("client", clientAddr.String()))

	return p.sender.SendTo(out.Bytes(), clientAddr)
}
