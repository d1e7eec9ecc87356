package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/orderflow/internal/claim"
	"github.com/appetiteclub/orderflow/internal/handoff"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/internal/statemachine"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

// Handler is the command surface terminals use to drive orders, claims and
// handoffs.
type Handler struct {
	engine   *Engine
	claims   *claim.Coordinator
	handoffs *handoff.Store
	logger   apt.Logger
	tlm      *telemetry.HTTP
}

func NewHandler(e *Engine, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		engine:   e,
		claims:   e.claims,
		handoffs: e.handoffs,
		logger:   logger,
		tlm:      telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/active", h.ListActiveOrders)
		r.Get("/state/{status}", h.ListOrdersByState)
		r.Post("/batch/events", h.ApplyBatch)
		r.Get("/{id}", h.GetOrder)
		r.Get("/{id}/history", h.GetOrderHistory)
		r.Post("/{id}/events", h.ApplyEvent)
		r.Patch("/{id}/items/{itemID}", h.UpdateItemStatus)
	})

	r.Route("/claims", func(r chi.Router) {
		r.Get("/", h.ListClaims)
		r.Post("/{orderID}/take", h.TakeCharge)
		r.Post("/{orderID}/release", h.Release)
		r.Post("/{orderID}/resolve", h.Resolve)
	})

	r.Route("/handoffs", func(r chi.Router) {
		r.Post("/", h.CreateHandoff)
		r.Get("/{code}", h.GetHandoff)
		r.Delete("/{code}", h.DiscardHandoff)
		r.Post("/{code}/convert", h.ConvertHandoff)
	})

	r.Route("/products/{id}", func(r chi.Router) {
		r.Put("/availability", h.SetAvailability)
		r.Post("/stock", h.AdjustStock)
	})
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

type EventRequest struct {
	Event string       `json:"event"`
	Actor *order.Actor `json:"actor,omitempty"`
}

type BatchRequest struct {
	OrderIDs     []uuid.UUID  `json:"order_ids"`
	Event        string       `json:"event"`
	Actor        *order.Actor `json:"actor,omitempty"`
	ValidateOnly bool         `json:"validate_only"`
}

type ItemStatusRequest struct {
	Status string       `json:"status"`
	Actor  *order.Actor `json:"actor,omitempty"`
}

type ActorRequest struct {
	Actor order.Actor `json:"actor"`
}

type ResolveRequest struct {
	Resolution string      `json:"resolution"`
	Actor      order.Actor `json:"actor"`
}

type HandoffRequest struct {
	Draft    handoff.Draft `json:"draft"`
	Identity string        `json:"identity"`
}

type AvailabilityRequest struct {
	Available bool `json:"available"`
}

type StockRequest struct {
	Delta int `json:"delta"`
}

type StepResponse struct {
	OrderID       uuid.UUID `json:"order_id"`
	Event         string    `json:"event"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Error         string    `json:"error,omitempty"`
}

type HistoryResponse struct {
	Event             string    `json:"event"`
	FromStatus        string    `json:"from_status"`
	FromPaymentStatus string    `json:"from_payment_status"`
	Status            string    `json:"status"`
	PaymentStatus     string    `json:"payment_status"`
	At                time.Time `json:"at"`
}

func stepResponse(r statemachine.BatchResult) StepResponse {
	resp := StepResponse{OrderID: r.OrderID, Event: string(r.Step.Event)}
	if r.Err != nil {
		resp.Error = r.Err.Error()
		return resp
	}
	resp.Status = r.Step.To.Fulfillment.Code()
	resp.PaymentStatus = r.Step.To.Payment.Code()
	return resp
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	id, ok := h.parseID(w, r, "id", "Invalid order ID")
	if !ok {
		return
	}
	o, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, o)
}

func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrderHistory")
	defer finish()

	id, ok := h.parseID(w, r, "id", "Invalid order ID")
	if !ok {
		return
	}
	steps, err := h.engine.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]HistoryResponse, 0, len(steps))
	for _, s := range steps {
		out = append(out, HistoryResponse{
			Event:             string(s.Event),
			FromStatus:        s.From.Fulfillment.Code(),
			FromPaymentStatus: s.From.Payment.Code(),
			Status:            s.To.Fulfillment.Code(),
			PaymentStatus:     s.To.Payment.Code(),
			At:                s.At,
		})
	}
	apt.RespondSuccess(w, out)
}

func (h *Handler) ListActiveOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListActiveOrders")
	defer finish()

	apt.RespondSuccess(w, h.engine.ActiveOrders())
}

func (h *Handler) ListOrdersByState(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrdersByState")
	defer finish()

	orders, err := h.engine.OrdersByState(chi.URLParam(r, "status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, orders)
}

func (h *Handler) ApplyEvent(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ApplyEvent")
	defer finish()

	id, ok := h.parseID(w, r, "id", "Invalid order ID")
	if !ok {
		return
	}
	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := statemachine.ParseEvent(req.Event)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	step, err := h.engine.ApplyEvent(r.Context(), id, ev, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, stepResponse(statemachine.BatchResult{OrderID: id, Step: step}))
}

func (h *Handler) ApplyBatch(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ApplyBatch")
	defer finish()

	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.OrderIDs) == 0 {
		apt.RespondError(w, http.StatusBadRequest, "order_ids is required")
		return
	}
	ev, err := statemachine.ParseEvent(req.Event)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var ok, bad []statemachine.BatchResult
	if req.ValidateOnly {
		ok, bad = h.engine.ValidateBatch(r.Context(), req.OrderIDs, ev)
	} else {
		ok, bad = h.engine.ApplyBatch(r.Context(), req.OrderIDs, ev, req.Actor)
	}

	resp := struct {
		Valid   []StepResponse `json:"valid"`
		Invalid []StepResponse `json:"invalid"`
	}{
		Valid:   make([]StepResponse, 0, len(ok)),
		Invalid: make([]StepResponse, 0, len(bad)),
	}
	for _, res := range ok {
		resp.Valid = append(resp.Valid, stepResponse(res))
	}
	for _, res := range bad {
		resp.Invalid = append(resp.Invalid, stepResponse(res))
	}
	apt.RespondSuccess(w, resp)
}

func (h *Handler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateItemStatus")
	defer finish()

	id, ok := h.parseID(w, r, "id", "Invalid order ID")
	if !ok {
		return
	}
	itemID, ok := h.parseID(w, r, "itemID", "Invalid item ID")
	if !ok {
		return
	}
	var req ItemStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := h.engine.UpdateItemStatus(r.Context(), id, itemID, req.Status, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, o)
}

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListClaims")
	defer finish()

	apt.RespondSuccess(w, h.claims.List())
}

func (h *Handler) TakeCharge(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.TakeCharge")
	defer finish()

	id, ok := h.parseID(w, r, "orderID", "Invalid order ID")
	if !ok {
		return
	}
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}

	cl, err := h.claims.TakeCharge(r.Context(), id, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, cl)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Release")
	defer finish()

	id, ok := h.parseID(w, r, "orderID", "Invalid order ID")
	if !ok {
		return
	}
	cl, err := h.claims.Release(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, cl)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Resolve")
	defer finish()

	id, ok := h.parseID(w, r, "orderID", "Invalid order ID")
	if !ok {
		return
	}
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := claim.ParseResolution(req.Resolution)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.claims.Resolve(r.Context(), id, res, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, o)
}

func (h *Handler) CreateHandoff(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateHandoff")
	defer finish()

	var req HandoffRequest
	if !h.decode(w, r, &req) {
		return
	}
	identity := req.Identity
	if identity == "" {
		identity = r.RemoteAddr
	}

	code, err := h.handoffs.Create(req.Draft, identity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.Respond(w, http.StatusCreated, map[string]string{"code": code}, nil)
}

func (h *Handler) GetHandoff(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetHandoff")
	defer finish()

	d, err := h.handoffs.Resolve(chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, d)
}

func (h *Handler) DiscardHandoff(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.DiscardHandoff")
	defer finish()

	if !h.handoffs.Discard(chi.URLParam(r, "code")) {
		apt.RespondError(w, http.StatusNotFound, "Handoff not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ConvertHandoff(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ConvertHandoff")
	defer finish()

	o, err := h.engine.ConvertHandoff(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.Respond(w, http.StatusCreated, o, nil)
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SetAvailability")
	defer finish()

	id, ok := h.parseID(w, r, "id", "Invalid product ID")
	if !ok {
		return
	}
	var req AvailabilityRequest
	if !h.decode(w, r, &req) {
		return
	}

	claims, err := h.engine.SetAvailability(r.Context(), id, req.Available)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if claims == nil {
		claims = []claim.Claim{}
	}
	apt.RespondSuccess(w, claims)
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AdjustStock")
	defer finish()

	id, ok := h.parseID(w, r, "id", "Invalid product ID")
	if !ok {
		return
	}
	var req StockRequest
	if !h.decode(w, r, &req) {
		return
	}

	remaining, err := h.engine.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apt.RespondSuccess(w, map[string]int{"available": remaining})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.log(r).Debug("invalid id", "param", param, "error", err)
		apt.RespondError(w, http.StatusBadRequest, msg)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log(r).Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, into); err != nil {
		h.log(r).Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// fail maps domain errors to HTTP statuses. Anything unknown is logged and
// reported as a server error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log(r).Error("request failed", "path", r.URL.Path, "error", err)
		apt.RespondError(w, status, "Internal error")
		return
	}
	apt.RespondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, claim.ErrNoClaim),
		errors.Is(err, handoff.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, statemachine.ErrUnknownEvent),
		errors.Is(err, ErrUnknownStatus),
		errors.Is(err, claim.ErrInvalidResolution),
		errors.Is(err, claim.ErrInvalidActor),
		errors.Is(err, handoff.ErrInvalidFormat),
		errors.Is(err, handoff.ErrEmptyDraft),
		errors.Is(err, handoff.ErrTooManyItems),
		errors.Is(err, handoff.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, statemachine.ErrInvalidTransition),
		errors.Is(err, claim.ErrAlreadyClaimed),
		errors.Is(err, claim.ErrNotClaimed),
		errors.Is(err, ErrStale):
		return http.StatusConflict
	case errors.Is(err, handoff.ErrExpired):
		return http.StatusGone
	case errors.Is(err, handoff.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, handoff.ErrNoFreeCode), errors.Is(err, ErrNoHandoff):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
