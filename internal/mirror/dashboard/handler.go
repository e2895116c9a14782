package dashboard

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// Source is the part of the sync engine the dashboard observes.
// *engine.Engine satisfies it.
type Source interface {
	Status() engine.Status
	Online() bool
	Conflicts() []engine.Conflict
	Subscribe(fn func(engine.Status)) (cancel func())
	SubscribeConflicts(fn func([]engine.Conflict)) (cancel func())
}

// Handler formats engine events as dashboard messages.
// It bridges between the engine and the WebSocket server.
type Handler struct {
	server *Server
	source Source
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, source Source, logger *log.Logger) *Handler {
	if logger == nil {
		logger = logging.Default("dashboard")
	}

	return &Handler{
		server: server,
		source: source,
		logger: logger,
	}
}

// Attach subscribes to the engine, broadcasts the current state, and
// returns a function that detaches again.
func (h *Handler) Attach() (detach func()) {
	stopStatus := h.source.Subscribe(h.OnStatus)
	stopConflicts := h.source.SubscribeConflicts(h.OnConflicts)

	h.OnStatus(h.source.Status())
	if conflicts := h.source.Conflicts(); len(conflicts) > 0 {
		h.OnConflicts(conflicts)
	}

	return func() {
		stopStatus()
		stopConflicts()
	}
}

// OnStatus handles cloud status transitions
func (h *Handler) OnStatus(s engine.Status) {
	h.logger.Debug("status changed", "status", s)
	h.send(MessageTypeStatus, StatusData{Status: s.String(), Online: h.source.Online()})
}

// OnConflicts handles conflict set changes
func (h *Handler) OnConflicts(conflicts []engine.Conflict) {
	data := ConflictData{Conflicts: make([]ConflictEntry, 0, len(conflicts))}
	for _, c := range conflicts {
		data.Conflicts = append(data.Conflicts, ConflictEntry{
			Kind:             c.Kind.String(),
			LocalCount:       c.LocalCount,
			RemoteCount:      c.RemoteCount,
			RemoteIncomplete: c.RemoteIncomplete,
			Suggested:        c.Suggested.String(),
		})
	}
	if len(conflicts) > 0 {
		h.logger.Warn("conflict pending", "kinds", len(conflicts))
	}
	h.send(MessageTypeConflict, data)
}

// OnCollection handles local collection saves
func (h *Handler) OnCollection(c schema.Collection, dirty bool) {
	h.send(MessageTypeCollection, CollectionData{
		Kind:  c.Kind.String(),
		Count: c.Len(),
		Dirty: dirty,
	})
}

func (h *Handler) send(t MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", t, "err", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	})
}
