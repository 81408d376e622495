// Package proxy implements a streaming intercepting proxy for SQL wire
// protocols (MariaDB and PostgreSQL). It sits between a client and a
// real database server, reassembles protocol frames from the raw byte
// stream, and passes each frame through a pluggable PacketHandler
// before forwarding it.
//
// A Session pairs two Pipes, one per direction. The two pipes share no
// buffers; they coordinate only through a pair of bounded channels,
// which carry short-circuit replies (currently the SSL-decline byte)
// from one direction into the other's outbound stream.
package proxy

import "encoding/binary"

// DatabaseType selects the wire protocol spoken on a session.
type DatabaseType int

const (
	MariaDB DatabaseType = iota
	PostgresSQL
)

func (t DatabaseType) String() string {
	switch t {
	case MariaDB:
		return "mariadb"
	case PostgresSQL:
		return "postgres"
	default:
		return "unknown"
	}
}

// ParseDatabaseType parses a config string into a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, bool) {
	switch s {
	case "mariadb", "mysql":
		return MariaDB, true
	case "postgres", "postgresql":
		return PostgresSQL, true
	}
	return 0, false
}

// Direction identifies which half of a session a pipe carries.
type Direction int

const (
	// Forward carries client → backend traffic.
	Forward Direction = iota
	// Backward carries backend → client traffic.
	Backward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// postgresTypes is the set of recognized PostgreSQL discriminator bytes.
// Handshake-phase messages (startup, SSLRequest) carry no discriminator;
// everything else leads with one of these.
var postgresTypes = func() [256]bool {
	var set [256]bool
	for _, c := range []byte("RKB23CdcfGHWDIEFVpvnNAtSP1sQZTX") {
		set[c] = true
	}
	return set
}()

// sslRequestCode is the PostgreSQL SSLRequest magic (80877103), carried
// in a discriminator-less message of declared length 8.
const sslRequestCode = 0x04d2162f

// mariadbCapSSL is the CLIENT_SSL capability bit in a MariaDB handshake
// response. An SSLRequest is a handshake response truncated to the
// 32-byte fixed prefix with this bit set.
const mariadbCapSSL = 0x0800

// Packet wraps one complete wire frame, including its own length
// header, tagged with the protocol it belongs to. Packets are values;
// treat the byte slice as immutable.
type Packet struct {
	dbType DatabaseType
	bytes  []byte
}

// NewPacket wraps a complete frame. The slice is retained, not copied.
func NewPacket(dbType DatabaseType, bytes []byte) Packet {
	return Packet{dbType: dbType, bytes: bytes}
}

// DatabaseType returns the protocol tag.
func (p Packet) DatabaseType() DatabaseType { return p.dbType }

// Bytes returns the complete frame, length header included.
func (p Packet) Bytes() []byte { return p.bytes }

// Size returns the frame length in bytes.
func (p Packet) Size() int { return len(p.bytes) }

// IsSSLRequest reports whether the frame is an SSL negotiation probe.
// The proxy does not support TLS upgrades, so these are answered with a
// single 'N' byte without contacting the backend.
func (p Packet) IsSSLRequest() bool {
	switch p.dbType {
	case PostgresSQL:
		// [4-byte length = 8][4-byte code = 80877103], no discriminator.
		return len(p.bytes) == 8 &&
			binary.BigEndian.Uint32(p.bytes[0:4]) == 8 &&
			binary.BigEndian.Uint32(p.bytes[4:8]) == sslRequestCode
	case MariaDB:
		// Handshake response cut short at the 32-byte fixed prefix,
		// capability flags (LE) carrying CLIENT_SSL.
		return len(p.bytes) == 4+32 &&
			binary.LittleEndian.Uint32(p.bytes[4:8])&mariadbCapSSL != 0
	}
	return false
}

// sslDecline is the canned reply to an SSL negotiation probe: a single
// ASCII 'N', sent with no additional framing.
func sslDecline(dbType DatabaseType) Packet {
	return NewPacket(dbType, []byte{'N'})
}
