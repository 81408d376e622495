package audit

import (
	"log/slog"

	"github.com/mattrobinsonsre/sqlproxy/pkg/proxy"
)

// Handler is a proxy.PacketHandler that records the SQL queries of one
// session. Forward packets are parsed for query events; all packets
// are returned unchanged.
type Handler struct {
	parser    frameParser
	logger    *slog.Logger
	collector *Collector
}

// NewHandler creates an audit handler for one session. collector may
// be nil, in which case events are only logged.
func NewHandler(dbType proxy.DatabaseType, logger *slog.Logger, collector *Collector) *Handler {
	var parser frameParser
	switch dbType {
	case proxy.MariaDB:
		parser = newMySQLParser()
	default:
		parser = newPostgresParser()
	}
	return &Handler{
		parser:    parser,
		logger:    logger,
		collector: collector,
	}
}

// HandleRequest taps one client → backend packet for query events.
func (h *Handler) HandleRequest(p proxy.Packet) (proxy.Packet, error) {
	for _, ev := range h.parser.parseFrame(p.Bytes()) {
		h.logger.Info("query", "type", string(ev.Type), "sql", ev.Query)
		if h.collector != nil {
			h.collector.Add(ev)
		}
	}
	return p, nil
}

// HandleResponse passes backend → client packets through untouched.
func (h *Handler) HandleResponse(p proxy.Packet) (proxy.Packet, error) {
	return p, nil
}
