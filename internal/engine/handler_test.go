package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/appetiteclub/orderflow/internal/claim"
	"github.com/appetiteclub/orderflow/internal/handoff"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/internal/statemachine"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(f.engine, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) int {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestHandlerOrderCommands(t *testing.T) {
	o := newOrder()
	f := newFixture(t, o)
	srv := newTestServer(t, f)
	base := "/orders/" + o.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "get", method: http.MethodGet, path: base, want: http.StatusOK},
		{name: "getBadID", method: http.MethodGet, path: "/orders/nope", want: http.StatusBadRequest},
		{name: "getMissing", method: http.MethodGet, path: "/orders/" + uuid.NewString(), want: http.StatusNotFound},
		{name: "history", method: http.MethodGet, path: base + "/history", want: http.StatusOK},
		{name: "historyMissing", method: http.MethodGet, path: "/orders/" + uuid.NewString() + "/history", want: http.StatusNotFound},
		{name: "unknownEvent", method: http.MethodPost, path: base + "/events", body: `{"event":"FLY"}`, want: http.StatusBadRequest},
		{name: "invalidTransition", method: http.MethodPost, path: base + "/events", body: `{"event":"DELIVER"}`, want: http.StatusConflict},
		{name: "badJSON", method: http.MethodPost, path: base + "/events", body: `{`, want: http.StatusBadRequest},
		{name: "start", method: http.MethodPost, path: base + "/events", body: `{"event":"start_preparation","actor":{"id":"w1"}}`, want: http.StatusOK},
		{name: "byState", method: http.MethodGet, path: "/orders/state/preparing", want: http.StatusOK},
		{name: "byUnknownState", method: http.MethodGet, path: "/orders/state/lost", want: http.StatusBadRequest},
		{name: "active", method: http.MethodGet, path: "/orders/active", want: http.StatusOK},
		{name: "itemUnknownStatus", method: http.MethodPatch, path: base + "/items/" + o.Items[0].ID.String(), body: `{"status":"burnt"}`, want: http.StatusBadRequest},
		{name: "itemReady", method: http.MethodPatch, path: base + "/items/" + o.Items[0].ID.String(), body: `{"status":"ready"}`, want: http.StatusOK},
		{name: "batchEmpty", method: http.MethodPost, path: "/orders/batch/events", body: `{"event":"MARK_READY"}`, want: http.StatusBadRequest},
		{name: "batchValidate", method: http.MethodPost, path: "/orders/batch/events", body: fmt.Sprintf(`{"order_ids":["%s"],"event":"MARK_READY","validate_only":true}`, o.ID), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := call(t, srv, tt.method, tt.path, tt.body); got != tt.want {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, got, tt.want)
			}
		})
	}

	if got := f.repo.Stored(o.ID).Status; got != orderstatus.Statuses.Preparing.Code() {
		t.Errorf("stored status = %s, want preparing", got)
	}
}

func TestHandlerClaimCommands(t *testing.T) {
	o := newOrder()
	f := newFixture(t, o)
	srv := newTestServer(t, f)
	path := "/claims/" + o.ID.String()

	if got := call(t, srv, http.MethodPost, path+"/take", `{"actor":{"id":"w1"}}`); got != http.StatusNotFound {
		t.Fatalf("take without claim status = %d, want 404", got)
	}
	if got := call(t, srv, http.MethodPut, "/products/"+soup.String()+"/availability", `{"available":false}`); got != http.StatusOK {
		t.Fatalf("availability status = %d", got)
	}
	if got := call(t, srv, http.MethodPost, path+"/take", `{"actor":{}}`); got != http.StatusBadRequest {
		t.Errorf("take without actor status = %d, want 400", got)
	}
	if got := call(t, srv, http.MethodPost, path+"/take", `{"actor":{"id":"w1"}}`); got != http.StatusOK {
		t.Fatalf("take status = %d", got)
	}
	if got := call(t, srv, http.MethodPost, path+"/take", `{"actor":{"id":"w2"}}`); got != http.StatusConflict {
		t.Errorf("second take status = %d, want 409", got)
	}
	if got := call(t, srv, http.MethodGet, "/claims", ""); got != http.StatusOK {
		t.Errorf("list status = %d", got)
	}
	if got := call(t, srv, http.MethodPost, path+"/resolve", `{"resolution":"shrug","actor":{"id":"w1"}}`); got != http.StatusBadRequest {
		t.Errorf("bad resolution status = %d, want 400", got)
	}
	if got := call(t, srv, http.MethodPost, path+"/resolve", `{"resolution":"split","actor":{"id":"w1"}}`); got != http.StatusOK {
		t.Fatalf("resolve status = %d", got)
	}
	if _, ok := f.claims.Get(o.ID); ok {
		t.Error("claim survived resolution")
	}
}

func TestHandlerHandoffCommands(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)

	body := fmt.Sprintf(`{"identity":"tablet-2","draft":{"items":[{"product_id":"%s","name":"Soup","quantity":1,"unit_price":"4.5"}]}}`, soup)
	if got := call(t, srv, http.MethodPost, "/handoffs", body); got != http.StatusCreated {
		t.Fatalf("create status = %d", got)
	}
	if got := call(t, srv, http.MethodPost, "/handoffs", `{"draft":{"items":[]}}`); got != http.StatusBadRequest {
		t.Errorf("empty draft status = %d, want 400", got)
	}
	if got := call(t, srv, http.MethodGet, "/handoffs/12ab", ""); got != http.StatusBadRequest {
		t.Errorf("malformed code status = %d, want 400", got)
	}
	if got := call(t, srv, http.MethodDelete, "/handoffs/000001", ""); got != http.StatusNotFound {
		t.Errorf("discard unknown status = %d, want 404", got)
	}
	if got := call(t, srv, http.MethodPost, "/handoffs/000001/convert", ""); got != http.StatusNotFound {
		t.Errorf("convert unknown status = %d, want 404", got)
	}
}

func TestHandlerStock(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)

	if got := call(t, srv, http.MethodPost, "/products/"+steak.String()+"/stock", `{"delta":4}`); got != http.StatusOK {
		t.Fatalf("stock status = %d", got)
	}
	if remaining, _ := f.stock.AdjustAvailable(context.Background(), steak, 0); remaining != 4 {
		t.Errorf("remaining = %d, want 4", remaining)
	}
	if got := call(t, srv, http.MethodPost, "/products/bad/stock", `{"delta":1}`); got != http.StatusBadRequest {
		t.Errorf("bad product status = %d, want 400", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "notFound", err: fmt.Errorf("order x: %w", order.ErrNotFound), want: http.StatusNotFound},
		{name: "invalidTransition", err: statemachine.ErrInvalidTransition, want: http.StatusConflict},
		{name: "claimed", err: claim.ErrAlreadyClaimed, want: http.StatusConflict},
		{name: "stale", err: ErrStale, want: http.StatusConflict},
		{name: "expired", err: handoff.ErrExpired, want: http.StatusGone},
		{name: "rateLimited", err: handoff.ErrRateLimited, want: http.StatusTooManyRequests},
		{name: "inconsistent", err: statemachine.ErrInconsistent, want: http.StatusInternalServerError},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
