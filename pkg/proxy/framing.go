package proxy

import (
	"encoding/binary"
	"fmt"
)

// DefaultMaxFrameSize bounds how large a single declared frame may be
// before the proxy gives up on the connection. The original wire
// protocols allow arbitrarily large frames; without a cap a peer can
// declare a huge length and grow the accumulation buffer without bound
// while never completing the frame.
const DefaultMaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned by NextPacket when a frame declares a
// length beyond the configured maximum. It is terminal for the pipe.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds maximum size")

// NextPacket attempts to extract one complete frame from the front of
// buf. It returns the packet and the number of bytes it occupies; a
// zero count means buf does not yet hold a complete frame and must be
// extended with more source bytes. buf itself is never modified; the
// caller drops the consumed prefix.
//
// MariaDB frame format:
//
//	[3-byte length (LE)][1-byte sequence][payload]
//
// PostgreSQL frame format:
//
//	[1-byte discriminator][4-byte length (BE, includes itself)][payload]
//
// with the discriminator absent on handshake-phase messages (startup,
// SSLRequest). The length field counts its own 4 bytes but never the
// discriminator.
//
// maxFrame ≤ 0 means DefaultMaxFrameSize.
func NextPacket(dbType DatabaseType, buf []byte, maxFrame int) (Packet, int, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}

	switch dbType {
	case MariaDB:
		if len(buf) < 4 {
			return Packet{}, 0, nil
		}
		length := int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16
		total := 4 + length
		if total > maxFrame {
			return Packet{}, 0, fmt.Errorf("%w: mariadb frame of %d bytes (max %d)", ErrFrameTooLarge, total, maxFrame)
		}
		if len(buf) < total {
			return Packet{}, 0, nil
		}
		return NewPacket(MariaDB, clone(buf[:total])), total, nil

	case PostgresSQL:
		if len(buf) == 0 {
			return Packet{}, 0, nil
		}
		prefix := 0
		if postgresTypes[buf[0]] {
			prefix = 1
		}
		if len(buf) < prefix+4 {
			return Packet{}, 0, nil
		}
		length := int(binary.BigEndian.Uint32(buf[prefix : prefix+4]))
		total := prefix + length
		if length < 4 {
			return Packet{}, 0, fmt.Errorf("postgres frame declares length %d, below the 4-byte minimum", length)
		}
		if total > maxFrame {
			return Packet{}, 0, fmt.Errorf("%w: postgres frame of %d bytes (max %d)", ErrFrameTooLarge, total, maxFrame)
		}
		if len(buf) < total {
			return Packet{}, 0, nil
		}
		return NewPacket(PostgresSQL, clone(buf[:total])), total, nil

	default:
		return Packet{}, 0, fmt.Errorf("unknown database type %d", dbType)
	}
}

// clone copies a frame out of the accumulation buffer so the packet
// stays valid after the buffer is compacted or reused.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
