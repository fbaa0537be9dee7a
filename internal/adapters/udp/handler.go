// Package udp adapts the core services to the wire: each handler
// parses a datagram, validates it, invokes its service and serializes
// the reply. Validation failures become type-7 packets; the underlying
// codec error is still returned so the base server counts it.
package udp

import (
	"errors"

	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/packet"
	"github.com/wipnet/wip/internal/server"
)

// zeroAreaCode is the unset area code; requests must carry a real one.
const zeroAreaCode = "000000"

// checkAuth verifies a request's auth hash against the service's own
// passphrase. Disabled auth accepts everything; enabled auth requires a
// present, matching hash.
func checkAuth(p *packet.Packet, auth config.AuthConfig) *domain.ProtocolError {
	if !auth.Enabled {
		return nil
	}

	if !packet.VerifyPacketAuth(p, auth.Passphrase) {
		return domain.NewProtocolError(domain.CodeAuthFailed, "authentication failed or missing")
	}

	return nil
}

// errorReply serializes the type-7 answer for a failed request and
// passes the failure through for accounting. Source is preserved so the
// proxy can still route the error to the originating client.
func errorReply(version int, requestData []byte, err error) ([]byte, error) {
	code := domain.CodeInternal

	var perr *domain.ProtocolError
	if errors.As(err, &perr) {
		code = perr.Code
	}

	var bfe *packet.BitFieldError
	if errors.As(err, &bfe) {
		code = domain.CodeBadRequest
	}

	source := ""
	if parsed, parseErr := packet.Parse(requestData); parseErr == nil {
		source = parsed.Ext.Source
	}

	return server.ErrorResponse(uint8(version), requestData, string(code), source), err
}

// signResponse applies response authentication to a reply builder when
// the service is configured for it.
func signResponse(b *packet.Builder, auth config.AuthConfig) *packet.Builder {
	if auth.ResponseAuthEnabled && auth.Passphrase != "" {
		b.ResponseAuth(true).Authenticate(auth.Passphrase)
	}

	return b
}
