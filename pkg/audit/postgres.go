package audit

import "time"

// PostgreSQL frontend (client→server) message types.
const (
	pgQuery   byte = 'Q' // Simple query
	pgParse   byte = 'P' // Parse (prepared statement)
	pgExecute byte = 'E' // Execute prepared statement
)

// postgresParser extracts SQL queries from complete PostgreSQL frames.
//
// Frame format:
//
//	[1-byte type][4-byte length (includes self)][payload]
//
// Handshake-phase frames (startup, SSLRequest) carry no type byte and
// are skipped; everything after the first handshake frame is assumed
// to be in the typed steady state.
type postgresParser struct {
	startupDone   bool
	lastPrepQuery string // most recent Parse query text
}

func newPostgresParser() *postgresParser {
	return &postgresParser{}
}

func (p *postgresParser) parseFrame(frame []byte) []QueryEvent {
	if !p.startupDone {
		// Startup message (or SSLRequest retry); nothing to extract.
		p.startupDone = true
		return nil
	}
	if len(frame) < 5 {
		return nil
	}

	msgType := frame[0]
	payload := frame[5:]
	now := time.Now().UTC()

	switch msgType {
	case pgQuery:
		// Simple query: null-terminated SQL string
		if q := extractNullTerminated(payload); q != "" {
			return []QueryEvent{{Timestamp: now, Query: q, Type: QuerySimple}}
		}

	case pgParse:
		// Parse: statement_name\0 query\0 [param_types]
		rest := skipNullTerminated(payload)
		if rest != nil {
			if q := extractNullTerminated(rest); q != "" {
				p.lastPrepQuery = q
				return []QueryEvent{{Timestamp: now, Query: q, Type: QueryPrepare}}
			}
		}

	case pgExecute:
		// Execute: portal_name\0 max_rows(4 bytes). The query text was
		// captured during Parse.
		if p.lastPrepQuery != "" {
			return []QueryEvent{{Timestamp: now, Query: p.lastPrepQuery, Type: QueryExecute}}
		}
	}

	return nil
}

// extractNullTerminated extracts a null-terminated string from the
// start of data.
func extractNullTerminated(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return ""
}

// skipNullTerminated skips past the first null-terminated string and
// returns the rest.
func skipNullTerminated(data []byte) []byte {
	for i, b := range data {
		if b == 0 {
			if i+1 < len(data) {
				return data[i+1:]
			}
			return nil
		}
	}
	return nil
}
