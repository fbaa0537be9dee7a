package client

import (
	"context"

	"github.com/wipnet/wip/internal/core/domain"
)

// Forwarder relays accepted sensor reports to another report endpoint
// through a client instance. It implements ports.ReportForwarder for
// the report service's optional forward side effect.
type Forwarder struct {
	c *Client
}

// NewForwarder wraps a client as a report forwarder. The client's
// Report endpoint is the relay target.
func NewForwarder(c *Client) *Forwarder {
	return &Forwarder{c: c}
}

// Forward re-submits the report downstream. The relay's ACK is awaited
// so a dead downstream surfaces as an error to the caller's log.
func (f *Forwarder) Forward(ctx context.Context, report *domain.SensorReport) error {
	opts := ReportOptions{
		AreaCode:    report.AreaCode,
		WeatherCode: report.WeatherCode,
		POP:         report.PrecipitationProb,
	}

	if report.Temperature != nil {
		v := float64(*report.Temperature)
		opts.Temperature = &v
	}

	_, err := f.c.SendReport(ctx, opts)

	return err
}
