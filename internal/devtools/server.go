package devtools

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/peervault-labs/fluquery/internal/mutation"
	"github.com/peervault-labs/fluquery/internal/pool"
	"github.com/peervault-labs/fluquery/internal/query"
	"github.com/peervault-labs/fluquery/internal/querycache"
	"github.com/peervault-labs/fluquery/internal/querykey"
)

// snapshotSlicePool reuses the []QuerySnapshot backing array across
// handleListQueries calls: devtools clients poll this endpoint continuously,
// so it is the one allocation-hot path in this package worth pooling. Callers
// must truncate to [:0] before appending and Put back when done.
var snapshotSlicePool = pool.NewObjectPool(func() []QuerySnapshot {
	return make([]QuerySnapshot, 0, 64)
})

// responseBufferPool reuses the *bytes.Buffer writeJSON encodes into.
// Unlike a pooled slice, a pooled pointer's reset actually propagates
// through Put, so this is the ResettableObjectPool's correct home.
var responseBufferPool = pool.NewResettableObjectPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(buf *bytes.Buffer) { buf.Reset() },
)

// QuerySnapshot is the JSON projection of one Query for the inspector UI.
type QuerySnapshot struct {
	Key               querykey.Key    `json:"key"`
	Hash              querykey.Hash   `json:"hash"`
	Status            query.Status    `json:"status"`
	FetchStatus       query.FetchStatus `json:"fetchStatus"`
	HasData           bool            `json:"hasData"`
	Data              any             `json:"data,omitempty"`
	ErrorMessage      string          `json:"error,omitempty"`
	DataUpdatedAt     time.Time       `json:"dataUpdatedAt,omitzero"`
	ObserverCount     int             `json:"observerCount"`
	IsStale           bool            `json:"isStale"`
	FetchFailureCount int             `json:"fetchFailureCount"`
}

// SnapshotQuery projects a *query.Query into a QuerySnapshot.
func SnapshotQuery(q *query.Query) QuerySnapshot {
	snap := q.Snapshot()
	s := QuerySnapshot{
		Key:               q.Key(),
		Hash:              q.Hash(),
		Status:            snap.Status,
		FetchStatus:       snap.FetchStatus,
		HasData:           snap.HasData,
		Data:              snap.Data,
		DataUpdatedAt:     snap.DataUpdatedAt,
		ObserverCount:     q.ObserverCount(),
		IsStale:           q.IsStale(time.Now()),
		FetchFailureCount: snap.FetchFailureCount,
	}
	if snap.Err != nil {
		s.ErrorMessage = snap.Err.Error()
	}
	return s
}

// MutationSnapshot is the JSON projection of one Mutation.
type MutationSnapshot struct {
	ID           string          `json:"id"`
	Status       mutation.Status `json:"status"`
	Variables    any             `json:"variables,omitempty"`
	Data         any             `json:"data,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
	SubmittedAt  time.Time       `json:"submittedAt,omitzero"`
}

// SnapshotMutation projects a *mutation.Mutation into a MutationSnapshot.
func SnapshotMutation(m *mutation.Mutation) MutationSnapshot {
	snap := m.Snapshot()
	s := MutationSnapshot{
		ID:          m.ID(),
		Status:      snap.Status,
		Variables:   snap.Variables,
		Data:        snap.Data,
		SubmittedAt: snap.SubmittedAt,
	}
	if snap.Err != nil {
		s.ErrorMessage = snap.Err.Error()
	}
	return s
}

// Server serves the REST snapshot endpoints and the WebSocket upgrade
// endpoint over one *mux.Router (spec.md §12).
type Server struct {
	cache     *querycache.Cache
	mutations *mutation.MutationCache
	hub       *Hub
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	Router *mux.Router
}

// NewServer builds a devtools Server bound to cache/mutations. Call hub.Run
// in a goroutine before serving traffic.
func NewServer(cache *querycache.Cache, mutations *mutation.MutationCache, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cache:     cache,
		mutations: mutations,
		hub:       hub,
		logger:    logger,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		Router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.HandleFunc("/queries", s.handleListQueries).Methods(http.MethodGet)
	s.Router.HandleFunc("/queries/{hash}", s.handleGetQuery).Methods(http.MethodGet)
	s.Router.HandleFunc("/mutations", s.handleListMutations).Methods(http.MethodGet)
	s.Router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	queries := s.cache.All()
	out := snapshotSlicePool.Get()[:0]
	for _, q := range queries {
		out = append(out, SnapshotQuery(q))
	}
	writeJSON(w, out)
	snapshotSlicePool.Put(out)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	hash := querykey.Hash(mux.Vars(r)["hash"])
	q, ok := s.cache.GetByHash(hash)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, SnapshotQuery(q))
}

func (s *Server) handleListMutations(w http.ResponseWriter, r *http.Request) {
	muts := s.mutations.All()
	out := make([]MutationSnapshot, 0, len(muts))
	for _, m := range muts {
		out = append(out, SnapshotMutation(m))
	}
	writeJSON(w, out)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("devtools websocket upgrade failed", "error", err)
		return
	}
	client := newClient(conn, s.hub)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, v any) {
	buf := responseBufferPool.Get()
	defer responseBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}
