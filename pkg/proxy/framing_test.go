package proxy

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMariaDBFrame constructs a MariaDB frame around a payload.
func buildMariaDBFrame(seq byte, payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	frame[0] = byte(len(payload))
	frame[1] = byte(len(payload) >> 8)
	frame[2] = byte(len(payload) >> 16)
	frame[3] = seq
	copy(frame[4:], payload)
	return frame
}

// buildPgMessage constructs a PostgreSQL message with a discriminator.
func buildPgMessage(msgType byte, payload []byte) []byte {
	msg := make([]byte, 1+4+len(payload))
	msg[0] = msgType
	binary.BigEndian.PutUint32(msg[1:5], uint32(4+len(payload)))
	copy(msg[5:], payload)
	return msg
}

// buildPgStartup constructs a handshake-phase message (no discriminator).
func buildPgStartup(body []byte) []byte {
	msg := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(msg[0:4], uint32(4+len(body)))
	copy(msg[4:], body)
	return msg
}

func TestNextPacketMariaDB(t *testing.T) {
	buf := []byte{0x02, 0x00, 0x00, 0x00, 0xAB, 0xCD}

	pkt, n, err := NextPacket(MariaDB, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, buf, pkt.Bytes())
	require.Equal(t, MariaDB, pkt.DatabaseType())
	require.Empty(t, buf[n:])
}

func TestNextPacketMariaDBIncomplete(t *testing.T) {
	// Complete header, truncated payload.
	buf := []byte{0x05, 0x00, 0x00, 0x01, 0xAA}
	_, n, err := NextPacket(MariaDB, buf, 0)
	require.NoError(t, err)
	require.Zero(t, n)

	// Truncated header.
	_, n, err = NextPacket(MariaDB, []byte{0x05, 0x00}, 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNextPacketMariaDBTrailingBytes(t *testing.T) {
	frame := buildMariaDBFrame(0, []byte("SELECT 1"))
	buf := append(append([]byte{}, frame...), 0xDE, 0xAD)

	pkt, n, err := NextPacket(MariaDB, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(frame), n)
	require.Equal(t, frame, pkt.Bytes())
	require.Equal(t, []byte{0xDE, 0xAD}, buf[n:])
}

func TestNextPacketPostgresNoDiscriminator(t *testing.T) {
	// SSLRequest: length 8, code 80877103, no discriminator byte.
	buf := []byte{0x00, 0x00, 0x00, 0x08, 0x04, 0xD2, 0x16, 0x2F}

	pkt, n, err := NextPacket(PostgresSQL, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, buf, pkt.Bytes())
	require.True(t, pkt.IsSSLRequest())
}

func TestNextPacketPostgresDiscriminator(t *testing.T) {
	// 'Q' message of declared length 9: one 10-byte frame in total
	// because the length field does not count the discriminator.
	buf := []byte{'Q', 0x00, 0x00, 0x00, 0x09, 'S', 'E', 'L', 0x00, 0x00}

	pkt, n, err := NextPacket(PostgresSQL, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, buf, pkt.Bytes())

	// With only 9 of the 10 bytes, extraction yields nothing and the
	// buffer is untouched.
	short := append([]byte{}, buf[:9]...)
	before := append([]byte{}, short...)
	_, n, err = NextPacket(PostgresSQL, short, 0)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, before, short)
}

func TestNextPacketPostgresBadLength(t *testing.T) {
	// Declared length below the 4-byte minimum is not a valid frame.
	buf := []byte{'Q', 0x00, 0x00, 0x00, 0x03}
	_, _, err := NextPacket(PostgresSQL, buf, 0)
	require.Error(t, err)
}

func TestNextPacketFrameTooLarge(t *testing.T) {
	buf := buildMariaDBFrame(0, make([]byte, 100))
	_, _, err := NextPacket(MariaDB, buf, 50)
	require.ErrorIs(t, err, ErrFrameTooLarge)

	big := buildPgMessage('Q', make([]byte, 100))
	_, _, err = NextPacket(PostgresSQL, big, 50)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

// extractAll drains every complete frame out of stream, delivered in
// chunks of the given size, returning the frames and the leftover.
func extractAll(t *testing.T, dbType DatabaseType, stream []byte, chunkSize int) ([][]byte, []byte) {
	t.Helper()
	var frames [][]byte
	var buf []byte

	for off := 0; off < len(stream); off += chunkSize {
		end := off + chunkSize
		if end > len(stream) {
			end = len(stream)
		}
		buf = append(buf, stream[off:end]...)

		for {
			pkt, n, err := NextPacket(dbType, buf, 0)
			require.NoError(t, err)
			if n == 0 {
				break
			}
			frames = append(frames, pkt.Bytes())
			buf = buf[n:]
		}
	}
	return frames, buf
}

func TestChunkInvariance(t *testing.T) {
	streams := map[DatabaseType][]byte{
		MariaDB: concat(
			buildMariaDBFrame(0, []byte("SELECT * FROM t")),
			buildMariaDBFrame(1, nil),
			buildMariaDBFrame(2, []byte{0x03, 'S', 'E', 'L', 'E', 'C', 'T', ' ', '1'}),
			buildMariaDBFrame(3, make([]byte, 300)),
		),
		PostgresSQL: concat(
			buildPgStartup([]byte{0x00, 0x03, 0x00, 0x00}),
			buildPgMessage('Q', []byte("SELECT 1\x00")),
			buildPgMessage('Z', []byte{'I'}),
			buildPgMessage('D', make([]byte, 260)),
		),
	}

	for dbType, stream := range streams {
		t.Run(dbType.String(), func(t *testing.T) {
			wantFrames, wantLeft := extractAll(t, dbType, stream, len(stream))
			require.Empty(t, wantLeft)

			for chunkSize := 1; chunkSize <= 9; chunkSize++ {
				frames, leftover := extractAll(t, dbType, stream, chunkSize)
				require.Equal(t, wantFrames, frames, "chunk size %d", chunkSize)
				require.Empty(t, leftover, "chunk size %d", chunkSize)
			}
		})
	}
}

func TestNoLossNoDuplication(t *testing.T) {
	// A frame stream with a trailing partial frame: everything appended
	// must be accounted for by extracted frames plus the leftover.
	stream := concat(
		buildMariaDBFrame(0, []byte("abc")),
		buildMariaDBFrame(1, []byte("defgh")),
		[]byte{0x10, 0x00, 0x00, 0x02, 0x01, 0x02}, // incomplete: declares 16 bytes
	)

	for chunkSize := 1; chunkSize <= 6; chunkSize++ {
		frames, leftover := extractAll(t, MariaDB, stream, chunkSize)
		require.Equal(t, stream, concat(append(frames, leftover)...), "chunk size %d", chunkSize)
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
