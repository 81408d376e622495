package audit

import (
	"encoding/binary"
	"time"
)

// MySQL command types (first byte of payload after packet header).
const (
	mysqlComQuery       byte = 0x03
	mysqlComStmtPrepare byte = 0x16
	mysqlComStmtExecute byte = 0x17
)

// mysqlParser extracts SQL queries from complete MariaDB/MySQL frames.
//
// Frame format:
//
//	[3-byte LE length][1-byte sequence_id][payload]
//
// The handshake phase (client auth response, possible auth switch) is
// skipped by counting frames until the first payload that starts with
// a valid command byte.
type mysqlParser struct {
	authDone     bool
	framesSeen   int
	preparedStmt map[uint32]string // stmt_id → query text
}

func newMySQLParser() *mysqlParser {
	return &mysqlParser{
		preparedStmt: make(map[uint32]string),
	}
}

func (p *mysqlParser) parseFrame(frame []byte) []QueryEvent {
	if len(frame) < 4 {
		return nil
	}
	payload := frame[4:]
	p.framesSeen++

	if !p.authDone {
		if p.framesSeen >= 2 && len(payload) > 0 && isCommandByte(payload[0]) {
			p.authDone = true
		} else {
			return nil
		}
	}

	if len(payload) == 0 {
		return nil
	}

	now := time.Now().UTC()

	switch payload[0] {
	case mysqlComQuery:
		// COM_QUERY: payload[1:] is the SQL string (no null terminator)
		if len(payload) > 1 {
			return []QueryEvent{{Timestamp: now, Query: string(payload[1:]), Type: QueryComQuery}}
		}

	case mysqlComStmtPrepare:
		// COM_STMT_PREPARE: payload[1:] is the SQL string
		if len(payload) > 1 {
			query := string(payload[1:])
			// The stmt_id arrives in the response, which this parser
			// never sees; key the most recent prepare under 0.
			p.preparedStmt[0] = query
			return []QueryEvent{{Timestamp: now, Query: query, Type: QueryPrepare}}
		}

	case mysqlComStmtExecute:
		// COM_STMT_EXECUTE: payload[1:5] is stmt_id (LE uint32)
		if len(payload) >= 5 {
			stmtID := binary.LittleEndian.Uint32(payload[1:5])
			query := p.preparedStmt[stmtID]
			if query == "" {
				query = p.preparedStmt[0]
			}
			if query != "" {
				return []QueryEvent{{Timestamp: now, Query: query, Type: QueryExecute}}
			}
		}
	}

	return nil
}

// isCommandByte checks if a byte is a valid MySQL command in the
// command phase.
func isCommandByte(b byte) bool {
	return b >= 0x01 && b <= 0x1F
}
