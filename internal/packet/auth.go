package packet

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
)

// authHashSize is the length of the MD5 digest carried by key 41.
const authHashSize = md5.Size

// AuthHash computes the per-packet authentication digest:
// MD5(packet_id as 2 big-endian bytes ∥ timestamp as 8 big-endian bytes
// ∥ passphrase UTF-8 bytes). Both sides must share the exact passphrase
// bytes, and the digest pins the packet's ID and timestamp.
func AuthHash(packetID uint16, timestamp int64, passphrase string) []byte {
	buf := make([]byte, 10, 10+len(passphrase))
	binary.BigEndian.PutUint16(buf[0:2], packetID)
	binary.BigEndian.PutUint64(buf[2:10], uint64(timestamp))
	buf = append(buf, passphrase...)

	sum := md5.Sum(buf)

	return sum[:]
}

// VerifyAuthHash reports whether hash matches the digest for the given
// packet ID, timestamp and passphrase. Comparison is constant-time.
func VerifyAuthHash(packetID uint16, timestamp int64, passphrase string, hash []byte) bool {
	if len(hash) != authHashSize {
		return false
	}

	return hmac.Equal(hash, AuthHash(packetID, timestamp, passphrase))
}

// VerifyPacketAuth checks a parsed packet against a receiver passphrase:
// the auth-hash extension must be present and match the packet's own ID
// and timestamp.
func VerifyPacketAuth(p *Packet, passphrase string) bool {
	if len(p.Ext.AuthHash) == 0 {
		return false
	}

	return VerifyAuthHash(p.PacketID, p.Timestamp, passphrase, p.Ext.AuthHash)
}
