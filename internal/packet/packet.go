package packet

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

// Type is the 3-bit packet kind tag. Even values are requests, odd
// values responses; 7 is the error packet.
type Type uint8

const (
	TypeLocationRequest  Type = 0
	TypeLocationResponse Type = 1
	TypeQueryRequest     Type = 2
	TypeQueryResponse    Type = 3
	TypeReportRequest    Type = 4
	TypeReportAck        Type = 5
	TypeError            Type = 7
)

// String names the packet type for logs.
func (t Type) String() string {
	switch t {
	case TypeLocationRequest:
		return "location-request"
	case TypeLocationResponse:
		return "location-response"
	case TypeQueryRequest:
		return "query-request"
	case TypeQueryResponse:
		return "query-response"
	case TypeReportRequest:
		return "report-request"
	case TypeReportAck:
		return "report-ack"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("type-%d", uint8(t))
	}
}

// Common header bit positions. The stream is little-endian: bit i lives
// in bit i%8 of byte i/8.
const (
	posVersion      = 0
	posPacketID     = 4
	posType         = 16
	posWeatherFlag  = 19
	posTempFlag     = 20
	posPOPFlag      = 21
	posAlertFlag    = 22
	posDisasterFlag = 23
	posExFlag       = 24
	posDay          = 25
	posRequestAuth  = 28
	posResponseAuth = 29
	posTimestamp    = 32
	posAreaCode     = 96
	posChecksum     = 116

	posWeatherCode = 128
	posTemperature = 144
	posPOP         = 152

	// HeaderSize is the serialized length of the common header alone.
	HeaderSize = 16

	// FixedBlockSize adds the forecast block carried by types 3, 4 and 5.
	FixedBlockSize = 20

	// MaxPacketID is the largest 12-bit correlation ID.
	MaxPacketID = 1<<12 - 1

	// MaxAreaCode is the largest 20-bit area code.
	MaxAreaCode = 1<<20 - 1

	maxDay = 7 - 1 // 3-bit day offset, 0 = today .. 6
)

// Flags mirrors the five data-selection bits of the header. On requests
// they mark which fields are wanted; on responses which are populated.
type Flags struct {
	Weather     bool
	Temperature bool
	POP         bool
	Alert       bool
	Disaster    bool
}

// Any reports whether at least one data field is selected.
func (f Flags) Any() bool {
	return f.Weather || f.Temperature || f.POP || f.Alert || f.Disaster
}

// Packet is a fully parsed or finalized WIP datagram. Packets are
// immutable once built; use Rebuild to derive a modified copy.
type Packet struct {
	Version      uint8
	PacketID     uint16
	Type         Type
	Flags        Flags
	ExFlag       bool
	Day          uint8
	RequestAuth  bool
	ResponseAuth bool
	Timestamp    int64
	Checksum     uint16

	// Fixed forecast block, meaningful on types 3, 4 and 5.
	WeatherCode uint16
	Temperature uint8 // packet form: degrees Celsius + 100
	POP         uint8

	Ext Extended

	areaCode uint32
	raw      []byte
}

// HasFixedBlock reports whether this packet type carries the 32-bit
// forecast block after the common header.
func (p *Packet) HasFixedBlock() bool {
	return typeHasFixedBlock(p.Type)
}

func typeHasFixedBlock(t Type) bool {
	return t == TypeQueryResponse || t == TypeReportRequest || t == TypeReportAck
}

// MinSize returns the minimum serialized length for a packet type.
func MinSize(t Type) int {
	if typeHasFixedBlock(t) {
		return FixedBlockSize
	}

	return HeaderSize
}

// AreaCode returns the area code zero-padded to six digits, the form
// used everywhere at the API surface.
func (p *Packet) AreaCode() string {
	return fmt.Sprintf("%06d", p.areaCode)
}

// AreaCodeInt returns the raw 20-bit area code value.
func (p *Packet) AreaCodeInt() uint32 {
	return p.areaCode
}

// TemperatureCelsius converts the packet-form temperature byte back to
// degrees Celsius.
func (p *Packet) TemperatureCelsius() int {
	return int(p.Temperature) - 100
}

// Bytes returns the serialized datagram. The slice is a copy; the
// packet's own buffer never escapes.
func (p *Packet) Bytes() []byte {
	return append([]byte(nil), p.raw...)
}

// Size returns the serialized length.
func (p *Packet) Size() int {
	return len(p.raw)
}

// String renders the header for debug logging.
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{v=%d id=%d type=%s area=%s day=%d ts=%d ext=%s}",
		p.Version, p.PacketID, p.Type, p.AreaCode(), p.Day, p.Timestamp, p.Ext.String())
}

// ParseAreaCode converts a six-digit (or shorter) decimal area code to
// its 20-bit wire value.
func ParseAreaCode(code string) (uint32, error) {
	n, err := strconv.ParseUint(code, 10, 32)
	if err != nil {
		return 0, wrapf(err, "area code %q is not a decimal number", code)
	}

	if n > MaxAreaCode {
		return 0, errorf("area code %d exceeds the 20-bit range", n)
	}

	return uint32(n), nil
}

// PeekPacketID extracts the 12-bit correlation ID from the first two
// bytes of a datagram without parsing or verifying it. Used by the
// response demultiplexer and for error attribution of unparseable data.
func PeekPacketID(data []byte) (uint16, bool) {
	if len(data) < 2 {
		return 0, false
	}

	v := binary.LittleEndian.Uint16(data[:2])

	return (v >> 4) & 0xFFF, true
}

// Builder accumulates packet fields and produces an immutable Packet.
// Finalize validates every range, serializes once and computes the
// checksum once; any violation surfaces as a BitFieldError.
type Builder struct {
	p          Packet
	passphrase string
	err        error
}

// NewBuilder starts a packet of the given protocol version and type.
func NewBuilder(version uint8, t Type) *Builder {
	b := &Builder{}
	b.p.Version = version
	b.p.Type = t

	if version > 0xF {
		b.fail(errorf("version %d exceeds the 4-bit range", version))
	}

	if t > 7 {
		b.fail(errorf("type %d exceeds the 3-bit range", t))
	}

	return b
}

// Rebuild derives a builder from an existing packet, preserving every
// field including the extension area. The proxy uses this to inject or
// strip the source record without re-deriving payloads.
func Rebuild(p *Packet) *Builder {
	b := &Builder{}
	b.p = *p
	b.p.raw = nil
	b.p.Checksum = 0

	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// PacketID sets the 12-bit correlation ID.
func (b *Builder) PacketID(id uint16) *Builder {
	if id > MaxPacketID {
		b.fail(errorf("packet ID %d exceeds the 12-bit range", id))
	}

	b.p.PacketID = id

	return b
}

// Type replaces the packet type, keeping every other field. The proxy
// uses this when converting a hop's response into the next request.
func (b *Builder) Type(t Type) *Builder {
	if t > 7 {
		b.fail(errorf("type %d exceeds the 3-bit range", t))
	}

	b.p.Type = t

	return b
}

// Flags sets the five data-selection bits.
func (b *Builder) Flags(f Flags) *Builder {
	b.p.Flags = f

	return b
}

// Day sets the forecast day offset, 0 (today) through 6.
func (b *Builder) Day(day uint8) *Builder {
	if day > maxDay {
		b.fail(errorf("day offset %d exceeds 6", day))
	}

	b.p.Day = day

	return b
}

// Timestamp sets the sender's Unix-seconds clock. Finalize stamps the
// current time when left at zero.
func (b *Builder) Timestamp(ts int64) *Builder {
	if ts < 0 {
		b.fail(errorf("timestamp %d is negative", ts))
	}

	b.p.Timestamp = ts

	return b
}

// AreaCode sets the area code from its six-digit decimal form.
func (b *Builder) AreaCode(code string) *Builder {
	n, err := ParseAreaCode(code)
	if err != nil {
		b.fail(err)

		return b
	}

	b.p.areaCode = n

	return b
}

// AreaCodeInt sets the area code from its integer form.
func (b *Builder) AreaCodeInt(n uint32) *Builder {
	if n > MaxAreaCode {
		b.fail(errorf("area code %d exceeds the 20-bit range", n))
	}

	b.p.areaCode = n

	return b
}

// WeatherCode sets the fixed-block weather code.
func (b *Builder) WeatherCode(code uint16) *Builder {
	b.p.WeatherCode = code

	return b
}

// TemperatureRaw sets the packet-form temperature byte (Celsius + 100).
func (b *Builder) TemperatureRaw(t uint8) *Builder {
	b.p.Temperature = t

	return b
}

// TemperatureCelsius sets the temperature from degrees Celsius,
// validating the encodable range.
func (b *Builder) TemperatureCelsius(c int) *Builder {
	if c < -100 || c > 155 {
		b.fail(errorf("temperature %d°C outside the encodable range [-100, 155]", c))

		return b
	}

	b.p.Temperature = uint8(c + 100)

	return b
}

// POP sets the precipitation probability percentage.
func (b *Builder) POP(pop uint8) *Builder {
	if pop > 100 {
		b.fail(errorf("precipitation probability %d exceeds 100", pop))
	}

	b.p.POP = pop

	return b
}

// Alerts sets the alert string list.
func (b *Builder) Alerts(alerts []string) *Builder {
	b.p.Ext.Alerts = alerts

	return b
}

// Disasters sets the disaster string list.
func (b *Builder) Disasters(disasters []string) *Builder {
	b.p.Ext.Disasters = disasters

	return b
}

// Coordinates sets the coordinate extension pair.
func (b *Builder) Coordinates(lat, lon float64) *Builder {
	if err := b.p.Ext.SetCoordinates(lat, lon); err != nil {
		b.fail(err)
	}

	return b
}

// Source sets the originator "ip:port" extension.
func (b *Builder) Source(source string) *Builder {
	b.p.Ext.Source = source

	return b
}

// ClearSource removes the source extension; the proxy strips it before
// the final hop back to the client.
func (b *Builder) ClearSource() *Builder {
	b.p.Ext.Source = ""

	return b
}

// ErrorCode sets the type-7 status string extension.
func (b *Builder) ErrorCode(code string) *Builder {
	b.p.Ext.ErrorCode = code

	return b
}

// RequestAuth sets the request-auth header bit.
func (b *Builder) RequestAuth(on bool) *Builder {
	b.p.RequestAuth = on

	return b
}

// ResponseAuth sets the response-auth header bit.
func (b *Builder) ResponseAuth(on bool) *Builder {
	b.p.ResponseAuth = on

	return b
}

// Authenticate requests an auth-hash extension computed over the final
// packet ID and timestamp with the given passphrase.
func (b *Builder) Authenticate(passphrase string) *Builder {
	b.passphrase = passphrase

	return b
}

// Finalize validates, serializes and checksums the packet. The returned
// packet is immutable and carries its wire bytes.
func (b *Builder) Finalize() (*Packet, error) {
	if b.err != nil {
		return nil, b.err
	}

	p := b.p

	if p.Timestamp == 0 {
		p.Timestamp = time.Now().Unix()
	}

	if b.passphrase != "" {
		p.Ext.AuthHash = AuthHash(p.PacketID, p.Timestamp, b.passphrase)
	}

	ext, err := p.Ext.encode()
	if err != nil {
		return nil, err
	}

	p.ExFlag = len(ext) > 0

	min := MinSize(p.Type)
	buf := make([]byte, min+len(ext))

	insertBits(buf, posVersion, 4, uint64(p.Version))
	insertBits(buf, posPacketID, 12, uint64(p.PacketID))
	insertBits(buf, posType, 3, uint64(p.Type))
	insertFlag(buf, posWeatherFlag, p.Flags.Weather)
	insertFlag(buf, posTempFlag, p.Flags.Temperature)
	insertFlag(buf, posPOPFlag, p.Flags.POP)
	insertFlag(buf, posAlertFlag, p.Flags.Alert)
	insertFlag(buf, posDisasterFlag, p.Flags.Disaster)
	insertFlag(buf, posExFlag, p.ExFlag)
	insertBits(buf, posDay, 3, uint64(p.Day))
	insertFlag(buf, posRequestAuth, p.RequestAuth)
	insertFlag(buf, posResponseAuth, p.ResponseAuth)
	insertBits(buf, posTimestamp, 64, uint64(p.Timestamp))
	insertBits(buf, posAreaCode, 20, uint64(p.areaCode))

	if p.HasFixedBlock() {
		insertBits(buf, posWeatherCode, 16, uint64(p.WeatherCode))
		insertBits(buf, posTemperature, 8, uint64(p.Temperature))
		insertBits(buf, posPOP, 8, uint64(p.POP))
	}

	copy(buf[min:], ext)

	p.Checksum = calcChecksum12(buf)
	insertBits(buf, posChecksum, 12, uint64(p.Checksum))

	p.raw = buf

	return &p, nil
}

func insertFlag(data []byte, pos int, on bool) {
	if on {
		insertBits(data, pos, 1, 1)
	}
}

// Parse decodes and verifies a received datagram. The checksum is
// checked before anything is returned; tampered or truncated data fails
// with a BitFieldError and never reaches a handler.
func Parse(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, errorf("datagram is %d bytes, below the %d-byte minimum", len(data), HeaderSize)
	}

	if !verifyChecksum12(data) {
		return nil, errorf("checksum verification failed, packet corrupted or tampered")
	}

	var p Packet
	p.Version = uint8(extractBits(data, posVersion, 4))
	p.PacketID = uint16(extractBits(data, posPacketID, 12))
	p.Type = Type(extractBits(data, posType, 3))
	p.Flags = Flags{
		Weather:     extractBits(data, posWeatherFlag, 1) == 1,
		Temperature: extractBits(data, posTempFlag, 1) == 1,
		POP:         extractBits(data, posPOPFlag, 1) == 1,
		Alert:       extractBits(data, posAlertFlag, 1) == 1,
		Disaster:    extractBits(data, posDisasterFlag, 1) == 1,
	}
	p.ExFlag = extractBits(data, posExFlag, 1) == 1
	p.Day = uint8(extractBits(data, posDay, 3))
	p.RequestAuth = extractBits(data, posRequestAuth, 1) == 1
	p.ResponseAuth = extractBits(data, posResponseAuth, 1) == 1
	p.Timestamp = int64(extractBits(data, posTimestamp, 64))
	p.areaCode = uint32(extractBits(data, posAreaCode, 20))
	p.Checksum = uint16(extractBits(data, posChecksum, 12))

	min := HeaderSize
	if p.HasFixedBlock() {
		if len(data) < FixedBlockSize {
			return nil, errorf("%s datagram is %d bytes, below the %d-byte minimum", p.Type, len(data), FixedBlockSize)
		}

		p.WeatherCode = uint16(extractBits(data, posWeatherCode, 16))
		p.Temperature = uint8(extractBits(data, posTemperature, 8))
		p.POP = uint8(extractBits(data, posPOP, 8))
		min = FixedBlockSize
	}

	if p.ExFlag && len(data) > min {
		ext, err := decodeExtended(data[min:])
		if err != nil {
			return nil, err
		}

		p.Ext = ext
	}

	p.raw = append([]byte(nil), data...)

	return &p, nil
}

// verifyChecksum12 recomputes the checksum over the datagram with the
// stored checksum bits zeroed and compares it to the stored value.
func verifyChecksum12(data []byte) bool {
	stored := uint16(extractBits(data, posChecksum, 12))

	scratch := append([]byte(nil), data...)
	insertBits(scratch, posChecksum, 12, 0)

	return calcChecksum12(scratch) == stored
}
