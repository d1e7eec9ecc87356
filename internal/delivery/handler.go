package delivery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/orderflow/pkg/enums/role"
	"github.com/appetiteclub/orderflow/pkg/enums/station"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultKeepalive = 30 * time.Second

// Handler exposes terminal streams over SSE together with the ack and
// metrics endpoints.
type Handler struct {
	broadcaster *Broadcaster
	gatherer    prometheus.Gatherer
	logger      apt.Logger
	tlm         *telemetry.HTTP
	keepalive   time.Duration
}

func NewHandler(b *Broadcaster, gatherer prometheus.Gatherer, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		broadcaster: b,
		gatherer:    gatherer,
		logger:      logger,
		tlm:         telemetry.NewHTTP(),
		keepalive:   DefaultKeepalive,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/terminals/{id}", func(r chi.Router) {
		r.Get("/events", h.Stream)
		r.Post("/acks/{eventID}", h.Ack)
	})
	r.Route("/delivery/metrics", func(r chi.Router) {
		r.Get("/", h.GetMetrics)
		r.Get("/history", h.GetMetricsHistory)
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

// Stream keeps the terminal connected until the client leaves or the
// broadcaster drops the connection.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	terminal, msg := terminalFromRequest(r)
	if msg != "" {
		apt.RespondError(w, http.StatusBadRequest, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		apt.RespondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	sub, err := h.broadcaster.Connect(terminal)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid terminal")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("terminal stream closed by client", "terminal_id", terminal.ID)
			return

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				h.broadcaster.MarkFailed(terminal.ID, err)
				return
			}
			flusher.Flush()

		case env, ok := <-sub.C:
			if !ok {
				log.Info("terminal stream replaced or stopped", "terminal_id", terminal.ID)
				return
			}
			if err := writeEnvelope(w, env); err != nil {
				h.broadcaster.MarkFailed(terminal.ID, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEnvelope(w http.ResponseWriter, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Name, data)
	return err
}

func terminalFromRequest(r *http.Request) (Terminal, string) {
	t := Terminal{ID: chi.URLParam(r, "id")}
	if t.ID == "" {
		return t, "Terminal ID is required"
	}

	if name := r.URL.Query().Get("station"); name != "" {
		s := station.ByName(name)
		if s == nil {
			return t, "Invalid station"
		}
		t.Station = s.Code()
	}

	if name := r.URL.Query().Get("role"); name != "" {
		rl := role.ByName(name)
		if rl == nil {
			return t, "Invalid role"
		}
		t.Role = rl.Code()
	}
	return t, ""
}

func (h *Handler) Ack(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Ack")
	defer finish()

	terminalID := chi.URLParam(r, "id")
	eventID := chi.URLParam(r, "eventID")
	if !h.broadcaster.Ack(terminalID, eventID) {
		apt.RespondError(w, http.StatusNotFound, "No pending event with that ID")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetMetrics")
	defer finish()

	apt.Respond(w, http.StatusOK, h.broadcaster.Metrics().Snapshot(), nil)
}

func (h *Handler) GetMetricsHistory(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetMetricsHistory")
	defer finish()

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"history": h.broadcaster.Metrics().History(),
	}, nil)
}
