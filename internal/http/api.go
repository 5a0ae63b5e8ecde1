package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/encstage"
	"github.com/mengelbart/encstage/internal/model"
	"github.com/mengelbart/encstage/stage"
)

type StageService interface {
	ID() string
	State() stage.State
	Stats() stage.Stats
	DrainDiagnostics() []encstage.OutPacket
}

type QueueService interface {
	Len() int
	Pushed() uint64
	Drops() uint64
}

type API struct {
	logger *slog.Logger
	stage  StageService
	queue  QueueService
}

// NewApi serves diagnostics of s. queue may be nil.
func NewApi(s StageService, queue QueueService) *API {
	return &API{
		logger: slog.Default().With("component", "api"),
		stage:  s,
		queue:  queue,
	}
}

func (a *API) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc(http.MethodGet, "/api/v1/diagnostics", a.DrainDiagnostics)
	mux.HandlerFunc(http.MethodGet, "/api/v1/stats", a.GetStats)
}

// DrainDiagnostics responds with all packets collected since the previous
// call and clears them.
func (a *API) DrainDiagnostics(w http.ResponseWriter, r *http.Request) {
	pkts := a.stage.DrainDiagnostics()
	if pkts == nil {
		a.writeError(w, http.StatusNotFound, "diagnostics disabled")
		return
	}
	res := make([]model.Packet, 0, len(pkts))
	for _, p := range pkts {
		res = append(res, model.Packet{
			PTSMillis: p.PTS.Milliseconds(),
			Size:      len(p.Payload),
			Payload:   p.Payload,
		})
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) GetStats(w http.ResponseWriter, r *http.Request) {
	st := a.stage.Stats()
	res := model.Stats{
		ID:         a.stage.ID(),
		State:      a.stage.State().String(),
		Drained:    st.Drained,
		Skipped:    st.Skipped,
		Failed:     st.Failed,
		Encoded:    st.Encoded,
		Published:  st.Published,
		EmptyPolls: st.EmptyPolls,
	}
	if a.queue != nil {
		res.Queue = &model.Queue{
			Length: a.queue.Len(),
			Pushed: a.queue.Pushed(),
			Drops:  a.queue.Drops(),
		}
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) writeError(w http.ResponseWriter, code int, msg string) {
	a.writeJSON(w, code, model.Error{Code: code, Message: msg})
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", "error", err)
	}
}
