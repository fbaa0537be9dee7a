// Package main is the WIP command-line client. It queries forecasts by
// coordinate or area code, directly or through the weather proxy, and
// submits sensor reports. Output is one line per received field; the
// exit code is non-zero on any failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/client"
	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/packet"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	var (
		coordMode  = flag.Bool("coord", false, "query by coordinates instead of area code")
		viaProxy   = flag.Bool("proxy", false, "route the query through the weather proxy")
		reportMode = flag.Bool("report", false, "send a sensor report")
		area       = flag.String("area", "", "six-digit area code")
		lat        = flag.Float64("lat", 0, "latitude in decimal degrees")
		lon        = flag.Float64("lon", 0, "longitude in decimal degrees")
		day        = flag.Uint("day", 0, "forecast day offset, 0 (today) through 6")
		weather    = flag.Int("weather", -1, "reported weather code")
		temp       = flag.Float64("temp", noTemperature, "reported temperature in Celsius")
		pops       = flag.Int("pops", -1, "reported precipitation probability")
		alerts     = flag.String("alert", "", "request alerts (any non-empty value sets the flag; the list is not sent)")
		disasters  = flag.String("disaster", "", "request disaster info (any non-empty value sets the flag; the list is not sent)")
		debug      = flag.Bool("debug", false, "verbose logging")
	)

	flag.Parse()

	logger := zap.NewNop()

	if *debug {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)

			return 1
		}
	}

	defer func() { _ = logger.Sync() }()

	cfg := config.LoadClient()

	c, err := client.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		return 1
	}

	defer func() { _ = c.Close() }()

	ctx := context.Background()

	if *reportMode {
		return runReport(ctx, c, *area, *weather, *temp, *pops)
	}

	return runQuery(ctx, c, queryArgs{
		coordMode: *coordMode,
		viaProxy:  *viaProxy,
		area:      *area,
		lat:       *lat,
		lon:       *lon,
		day:       uint8(*day),
		alerts:    *alerts != "",
		disasters: *disasters != "",
	})
}

// noTemperature marks the --temp flag as unset; -500 is far outside the
// encodable range.
const noTemperature = -500.0

type queryArgs struct {
	coordMode bool
	viaProxy  bool
	area      string
	lat, lon  float64
	day       uint8
	alerts    bool
	disasters bool
}

func runQuery(ctx context.Context, c *client.Client, args queryArgs) int {
	opts := client.QueryOptions{
		Flags: packet.Flags{
			Weather:     true,
			Temperature: true,
			POP:         true,
			Alert:       args.alerts,
			Disaster:    args.disasters,
		},
		Day:    args.day,
		Direct: !args.viaProxy,
	}

	var (
		result *client.WeatherResult
		err    error
	)

	if args.coordMode {
		// Coordinate resolution always runs through the proxy.
		result, err = c.QueryByCoordinates(ctx, args.lat, args.lon, opts)
	} else {
		if args.area == "" {
			fmt.Fprintln(os.Stderr, "error: --area is required without --coord")

			return 2
		}

		result, err = c.QueryByArea(ctx, args.area, opts)
	}

	if err != nil {
		return printError(err)
	}

	printResult(result)

	return 0
}

func runReport(ctx context.Context, c *client.Client, area string, weather int, temp float64, pops int) int {
	if area == "" {
		fmt.Fprintln(os.Stderr, "error: --area is required for --report")

		return 2
	}

	opts := client.ReportOptions{AreaCode: area}

	if weather >= 0 {
		opts.WeatherCode = &weather
	}

	if temp != noTemperature {
		opts.Temperature = &temp
	}

	if pops >= 0 {
		opts.POP = &pops
	}

	ack, err := c.SendReport(ctx, opts)
	if err != nil {
		return printError(err)
	}

	fmt.Printf("ack: packet_id=%d\n", ack.PacketID)
	fmt.Printf("area_code: %s\n", ack.AreaCode)
	fmt.Printf("timestamp: %d\n", ack.Timestamp)

	return 0
}

// printResult writes one line per populated field.
func printResult(r *client.WeatherResult) {
	fmt.Printf("area_code: %s\n", r.AreaCode)

	if r.WeatherCode != nil {
		fmt.Printf("weather_code: %d\n", *r.WeatherCode)
	}

	if r.Temperature != nil {
		fmt.Printf("temperature: %d\n", *r.Temperature)
	}

	if r.POP != nil {
		fmt.Printf("precipitation_prob: %d\n", *r.POP)
	}

	if len(r.Alerts) > 0 {
		fmt.Printf("alert: %s\n", strings.Join(r.Alerts, ","))
	}

	if len(r.Disasters) > 0 {
		fmt.Printf("disaster: %s\n", strings.Join(r.Disasters, ","))
	}
}

// printError reports the failure with its protocol code and picks the
// exit status.
func printError(err error) int {
	var perr *domain.ProtocolError
	if errors.As(err, &perr) {
		fmt.Fprintf(os.Stderr, "error %s: %s\n", perr.Code, perr.Message)

		return 1
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)

	return 1
}
