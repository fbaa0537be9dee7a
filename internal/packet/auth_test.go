package packet

import (
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuthHashConstruction verifies the digest layout: 2 big-endian ID
// bytes, 8 big-endian timestamp bytes, then the raw passphrase.
func TestAuthHashConstruction(t *testing.T) {
	var buf []byte
	buf = binary.BigEndian.AppendUint16(buf, 321)
	buf = binary.BigEndian.AppendUint64(buf, 1700000000)
	buf = append(buf, "secret"...)
	want := md5.Sum(buf)

	assert.Equal(t, want[:], AuthHash(321, 1700000000, "secret"))
}

// TestVerifyAuthHash verifies the hash matches iff passphrase, packet ID
// and timestamp are all unchanged.
func TestVerifyAuthHash(t *testing.T) {
	hash := AuthHash(100, 1700000000, "P")

	tests := []struct {
		name       string
		id         uint16
		ts         int64
		passphrase string
		want       bool
	}{
		{name: "exact match", id: 100, ts: 1700000000, passphrase: "P", want: true},
		{name: "wrong passphrase", id: 100, ts: 1700000000, passphrase: "Q", want: false},
		{name: "changed packet id", id: 101, ts: 1700000000, passphrase: "P", want: false},
		{name: "changed timestamp", id: 100, ts: 1700000001, passphrase: "P", want: false},
		{name: "empty passphrase", id: 100, ts: 1700000000, passphrase: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyAuthHash(tt.id, tt.ts, tt.passphrase, hash))
		})
	}

	assert.False(t, VerifyAuthHash(100, 1700000000, "P", []byte("short")))
	assert.False(t, VerifyAuthHash(100, 1700000000, "P", nil))
}

// TestAuthenticatedPacketRoundTrip verifies the builder attaches a hash
// keyed to the finalized ID and timestamp, and the receiver verifies it.
func TestAuthenticatedPacketRoundTrip(t *testing.T) {
	p, err := NewBuilder(1, TypeReportRequest).
		PacketID(55).
		AreaCode("011000").
		WeatherCode(100).
		TemperatureCelsius(25).
		POP(30).
		RequestAuth(true).
		Authenticate("P").
		Timestamp(1700000000).
		Finalize()
	require.NoError(t, err)

	got, err := Parse(p.Bytes())
	require.NoError(t, err)

	assert.True(t, got.RequestAuth)
	require.Len(t, got.Ext.AuthHash, 16)
	assert.True(t, VerifyPacketAuth(got, "P"))
	assert.False(t, VerifyPacketAuth(got, "Q"))
}

// TestVerifyPacketAuthMissingHash verifies a packet without the hash
// extension fails verification when auth is required.
func TestVerifyPacketAuthMissingHash(t *testing.T) {
	p, err := NewBuilder(1, TypeReportRequest).
		PacketID(55).AreaCode("011000").RequestAuth(true).Timestamp(1700000000).Finalize()
	require.NoError(t, err)

	assert.False(t, VerifyPacketAuth(p, "P"))
}
