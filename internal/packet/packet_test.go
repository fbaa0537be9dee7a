package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPacketRoundTrip verifies that parse(serialize(fields)) preserves
// every legal field set across the packet types.
func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
	}{
		{
			name: "minimal query request",
			build: func() *Builder {
				return NewBuilder(1, TypeQueryRequest).
					PacketID(42).
					AreaCode("130010").
					Flags(Flags{Weather: true, Temperature: true, POP: true}).
					Day(0).
					Timestamp(1700000000)
			},
		},
		{
			name: "location request with coordinates",
			build: func() *Builder {
				return NewBuilder(1, TypeLocationRequest).
					PacketID(4095).
					Coordinates(35.6895, 139.6917).
					Flags(Flags{Weather: true}).
					Day(3).
					Timestamp(1700000001)
			},
		},
		{
			name: "query response with alerts and disasters",
			build: func() *Builder {
				return NewBuilder(1, TypeQueryResponse).
					PacketID(7).
					AreaCode("011000").
					Flags(Flags{Weather: true, Alert: true, Disaster: true}).
					WeatherCode(100).
					TemperatureRaw(125).
					POP(30).
					Alerts([]string{"大雨警報", "洪水注意報"}).
					Disasters([]string{"土砂災害"}).
					Source("192.168.1.10:51123").
					Timestamp(1700000002)
			},
		},
		{
			name: "report request with sensor block",
			build: func() *Builder {
				return NewBuilder(1, TypeReportRequest).
					PacketID(900).
					AreaCode("400010").
					Flags(Flags{Weather: true, Temperature: true, POP: true}).
					WeatherCode(200).
					TemperatureCelsius(26).
					POP(45).
					Timestamp(1700000003)
			},
		},
		{
			name: "error packet",
			build: func() *Builder {
				return NewBuilder(1, TypeError).
					PacketID(13).
					ErrorCode("402").
					Source("10.0.0.1:4000").
					Timestamp(1700000004)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent, err := tt.build().Finalize()
			require.NoError(t, err)

			got, err := Parse(sent.Bytes())
			require.NoError(t, err)

			assert.Equal(t, sent.Version, got.Version)
			assert.Equal(t, sent.PacketID, got.PacketID)
			assert.Equal(t, sent.Type, got.Type)
			assert.Equal(t, sent.Flags, got.Flags)
			assert.Equal(t, sent.Day, got.Day)
			assert.Equal(t, sent.Timestamp, got.Timestamp)
			assert.Equal(t, sent.AreaCode(), got.AreaCode())
			assert.Equal(t, sent.WeatherCode, got.WeatherCode)
			assert.Equal(t, sent.Temperature, got.Temperature)
			assert.Equal(t, sent.POP, got.POP)
			assert.Equal(t, sent.Ext.Alerts, got.Ext.Alerts)
			assert.Equal(t, sent.Ext.Disasters, got.Ext.Disasters)
			assert.Equal(t, sent.Ext.Source, got.Ext.Source)
			assert.Equal(t, sent.Ext.ErrorCode, got.Ext.ErrorCode)
		})
	}
}

// TestPacketMinimumSizes verifies the serialized length floors: 16 bytes
// for requests and errors, 20 for packets carrying the fixed block.
func TestPacketMinimumSizes(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{TypeLocationRequest, 16},
		{TypeLocationResponse, 16},
		{TypeQueryRequest, 16},
		{TypeQueryResponse, 20},
		{TypeReportRequest, 20},
		{TypeReportAck, 20},
		{TypeError, 16},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			p, err := NewBuilder(1, tt.typ).PacketID(1).Timestamp(1700000000).Finalize()
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Size())
		})
	}
}

// TestChecksumTampering flips every bit outside the checksum field of a
// serialized packet and expects Parse to reject each mutation.
func TestChecksumTampering(t *testing.T) {
	p, err := NewBuilder(1, TypeQueryRequest).
		PacketID(321).
		AreaCode("130010").
		Flags(Flags{Weather: true}).
		Timestamp(1700000000).
		Finalize()
	require.NoError(t, err)

	data := p.Bytes()

	for bit := 0; bit < len(data)*8; bit++ {
		if bit >= posChecksum && bit < posChecksum+12 {
			continue
		}

		mutated := append([]byte(nil), data...)
		mutated[bit/8] ^= 1 << (bit % 8)

		_, err := Parse(mutated)

		var bfe *BitFieldError
		assert.ErrorAs(t, err, &bfe, "bit %d flip was accepted", bit)
	}
}

// TestAreaCodeFormatting verifies that the string and integer forms
// serialize identically and that reads return the six-digit form.
func TestAreaCodeFormatting(t *testing.T) {
	fromString, err := NewBuilder(1, TypeQueryRequest).
		PacketID(5).AreaCode("001234").Timestamp(1700000000).Finalize()
	require.NoError(t, err)

	fromInt, err := NewBuilder(1, TypeQueryRequest).
		PacketID(5).AreaCodeInt(1234).Timestamp(1700000000).Finalize()
	require.NoError(t, err)

	assert.Equal(t, fromString.Bytes(), fromInt.Bytes())

	parsed, err := Parse(fromInt.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "001234", parsed.AreaCode())
	assert.Equal(t, uint32(1234), parsed.AreaCodeInt())
}

// TestTemperatureWireForm verifies the +100 packet form: a raw byte of
// 25 travels as-is and converts to -75°C only through the accessor.
func TestTemperatureWireForm(t *testing.T) {
	p, err := NewBuilder(1, TypeQueryResponse).
		PacketID(1).AreaCode("130010").TemperatureRaw(25).Timestamp(1700000000).Finalize()
	require.NoError(t, err)

	assert.Equal(t, byte(25), p.Bytes()[18])

	parsed, err := Parse(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(25), parsed.Temperature)
	assert.Equal(t, -75, parsed.TemperatureCelsius())

	celsius, err := NewBuilder(1, TypeQueryResponse).
		PacketID(1).AreaCode("130010").TemperatureCelsius(25).Timestamp(1700000000).Finalize()
	require.NoError(t, err)
	assert.Equal(t, uint8(125), celsius.Temperature)
	assert.Equal(t, 25, celsius.TemperatureCelsius())
}

// TestBuilderValidation verifies that out-of-range fields fail at
// construction with a BitFieldError instead of being masked.
func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
	}{
		{
			name:  "packet id too wide",
			build: func() *Builder { return NewBuilder(1, TypeQueryRequest).PacketID(4096) },
		},
		{
			name:  "day beyond six",
			build: func() *Builder { return NewBuilder(1, TypeQueryRequest).PacketID(1).Day(7) },
		},
		{
			name:  "pop above hundred",
			build: func() *Builder { return NewBuilder(1, TypeQueryResponse).PacketID(1).POP(101) },
		},
		{
			name:  "area code not numeric",
			build: func() *Builder { return NewBuilder(1, TypeQueryRequest).PacketID(1).AreaCode("tokyo") },
		},
		{
			name:  "area code too wide",
			build: func() *Builder { return NewBuilder(1, TypeQueryRequest).PacketID(1).AreaCode("1048576") },
		},
		{
			name:  "latitude out of range",
			build: func() *Builder { return NewBuilder(1, TypeLocationRequest).PacketID(1).Coordinates(90.5, 0) },
		},
		{
			name:  "longitude out of range",
			build: func() *Builder { return NewBuilder(1, TypeLocationRequest).PacketID(1).Coordinates(0, -180.5) },
		},
		{
			name:  "temperature below encodable",
			build: func() *Builder { return NewBuilder(1, TypeQueryResponse).PacketID(1).TemperatureCelsius(-101) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Finalize()

			var bfe *BitFieldError
			assert.ErrorAs(t, err, &bfe)
		})
	}
}

// TestRebuildPreservesAndMutates verifies the proxy's rebuild path:
// derived packets keep every field and apply only the requested change.
func TestRebuildPreservesAndMutates(t *testing.T) {
	original, err := NewBuilder(1, TypeQueryResponse).
		PacketID(77).
		AreaCode("130010").
		Flags(Flags{Weather: true, POP: true}).
		WeatherCode(100).
		TemperatureRaw(125).
		POP(30).
		Source("172.16.0.9:50000").
		Timestamp(1700000000).
		Finalize()
	require.NoError(t, err)

	stripped, err := Rebuild(original).ClearSource().Finalize()
	require.NoError(t, err)

	assert.Equal(t, original.PacketID, stripped.PacketID)
	assert.Equal(t, original.WeatherCode, stripped.WeatherCode)
	assert.Empty(t, stripped.Ext.Source)
	assert.False(t, stripped.ExFlag, "ex_flag must clear when extensions empty")
	assert.Equal(t, FixedBlockSize, stripped.Size())

	parsed, err := Parse(stripped.Bytes())
	require.NoError(t, err)
	assert.Equal(t, original.POP, parsed.POP)
}

// TestPeekPacketID verifies the demultiplexer's header prefix read.
func TestPeekPacketID(t *testing.T) {
	p, err := NewBuilder(1, TypeQueryResponse).
		PacketID(2049).AreaCode("130010").Timestamp(1700000000).Finalize()
	require.NoError(t, err)

	id, ok := PeekPacketID(p.Bytes())
	assert.True(t, ok)
	assert.Equal(t, uint16(2049), id)

	_, ok = PeekPacketID([]byte{0x01})
	assert.False(t, ok)
}

// TestParseRejectsShortData verifies the minimum datagram floor.
func TestParseRejectsShortData(t *testing.T) {
	_, err := Parse(make([]byte, 15))

	var bfe *BitFieldError
	assert.ErrorAs(t, err, &bfe)
}
