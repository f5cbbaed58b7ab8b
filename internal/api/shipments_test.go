package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alitho/shipview/internal/pipeline"
	"github.com/alitho/shipview/internal/shipment"
	"github.com/alitho/shipview/internal/storage"
)

const testToken = "test-token"

// --- mocks ---

type mockShipments struct {
	searchFn  func(ctx context.Context, session string, f shipment.Filter) (pipeline.Page, error)
	getOneFn  func(ctx context.Context, id string) (shipment.Record, []pipeline.Miss, error)
	cartonsFn func(ctx context.Context, id string) (pipeline.CartonResult, error)

	lastSession     string
	lastFilter      shipment.Filter
	invalidated     []string
	invalidateCount int
}

func (m *mockShipments) Search(ctx context.Context, session string, f shipment.Filter) (pipeline.Page, error) {
	m.lastSession, m.lastFilter = session, f
	if m.searchFn != nil {
		return m.searchFn(ctx, session, f)
	}
	return pipeline.Page{Items: []shipment.Record{}, Page: 1, PageSize: 50, Approximate: true}, nil
}

func (m *mockShipments) GetOne(ctx context.Context, id string) (shipment.Record, []pipeline.Miss, error) {
	if m.getOneFn != nil {
		return m.getOneFn(ctx, id)
	}
	return shipment.Record{ID: id}, nil, nil
}

func (m *mockShipments) GetCartons(ctx context.Context, id string) (pipeline.CartonResult, error) {
	if m.cartonsFn != nil {
		return m.cartonsFn(ctx, id)
	}
	return pipeline.CartonResult{Shipment: id, Cartons: []shipment.Carton{}}, nil
}

func (m *mockShipments) Invalidate(session string) int {
	m.invalidated = append(m.invalidated, session)
	return m.invalidateCount
}

type mockCorruptions struct {
	list            []storage.Corruption
	err             error
	includeResolved bool
	limit           int
}

func (m *mockCorruptions) ListCorruptions(_ context.Context, includeResolved bool, limit int) ([]storage.Corruption, error) {
	m.includeResolved, m.limit = includeResolved, limit
	return m.list, m.err
}

// --- helpers ---

func newTestHandler(t *testing.T, svc *mockShipments, corr CorruptionLister) http.Handler {
	t.Helper()
	return NewHandler(Deps{
		Shipments:   svc,
		Corruptions: corr,
		Token:       testToken,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("shipview_record_fetches_total 1\n"))
		}),
	})
}

func doRequest(t *testing.T, h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env struct {
		Error errorBody `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return env.Error
}

// --- tests ---

func TestHealthAndMetrics_NoAuth(t *testing.T) {
	h := newTestHandler(t, &mockShipments{}, nil)

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestShipments_RequireBearer(t *testing.T) {
	h := newTestHandler(t, &mockShipments{}, nil)

	for _, auth := range []string{"", "Bearer wrong", "Basic " + testToken} {
		req := httptest.NewRequest(http.MethodGet, "/shipments", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, rec.Code)
			continue
		}
		if e := decodeError(t, rec); e.Kind != kindUnauthorized || e.Status != 401 {
			t.Errorf("auth %q: error = %+v", auth, e)
		}
	}
}

func TestBearerAuth_EmptyTokenRejects(t *testing.T) {
	h := NewHandler(Deps{Shipments: &mockShipments{}})
	req := httptest.NewRequest(http.MethodGet, "/shipments", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestSearch_PassesFilterAndSession(t *testing.T) {
	svc := &mockShipments{searchFn: func(_ context.Context, _ string, f shipment.Filter) (pipeline.Page, error) {
		return pipeline.Page{
			Items:       []shipment.Record{{ID: "9"}, {ID: "8"}},
			Page:        f.Page,
			PageSize:    f.PageSize,
			Total:       2,
			Approximate: true,
		}, nil
	}}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodGet,
		"/shipments?startDate=2024-03-01&endDate=2024-03-31&job=J1&customer=acme&page=2&pageSize=25",
		map[string]string{SessionHeader: "alice"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	want := shipment.Filter{StartDate: "2024-03-01", EndDate: "2024-03-31", Job: "J1", Customer: "acme", Page: 2, PageSize: 25}
	if svc.lastFilter != want {
		t.Errorf("filter = %+v, want %+v", svc.lastFilter, want)
	}
	if svc.lastSession != "alice" {
		t.Errorf("session = %q, want alice", svc.lastSession)
	}

	var page pipeline.Page
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 2 || !page.Approximate || page.Page != 2 {
		t.Errorf("page = %+v", page)
	}
}

func TestSearch_DefaultSession(t *testing.T) {
	svc := &mockShipments{}
	h := newTestHandler(t, svc, nil)

	doRequest(t, h, http.MethodGet, "/shipments", nil)

	if svc.lastSession != pipeline.DefaultSession {
		t.Errorf("session = %q, want %q", svc.lastSession, pipeline.DefaultSession)
	}
}

func TestSearch_NonNumericPage(t *testing.T) {
	svc := &mockShipments{}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodGet, "/shipments?page=two", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if e := decodeError(t, rec); e.Kind != string(shipment.KindValidationError) {
		t.Errorf("kind = %q", e.Kind)
	}
	if svc.lastSession != "" {
		t.Error("service should not be called")
	}
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantKind     string
		wantUpstream bool
	}{
		{
			name:       "validation",
			err:        shipment.Errorf(shipment.KindValidationError, "endDate before startDate"),
			wantStatus: http.StatusBadRequest,
			wantKind:   "ValidationError",
		},
		{
			name:         "upstream query failed",
			err:          &shipment.Error{Kind: shipment.KindUpstreamQueryFailed, Message: "Shipment search", Status: 503, Body: "maintenance"},
			wantStatus:   http.StatusBadGateway,
			wantKind:     "UpstreamQueryFailed",
			wantUpstream: true,
		},
		{
			name:       "credentials missing",
			err:        shipment.Errorf(shipment.KindUpstreamCredentialsMissing, "erp credentials missing"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   kindMisconfigured,
		},
		{
			name:       "not found",
			err:        shipment.Errorf(shipment.KindNotFound, "shipment 1 not found"),
			wantStatus: http.StatusNotFound,
			wantKind:   "NotFound",
		},
		{
			name:       "unclassified",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   kindInternal,
		},
		{
			name:       "cancelled",
			err:        context.Canceled,
			wantStatus: http.StatusGatewayTimeout,
			wantKind:   kindInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockShipments{searchFn: func(context.Context, string, shipment.Filter) (pipeline.Page, error) {
				return pipeline.Page{}, tt.err
			}}
			rec := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/shipments", nil)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			e := decodeError(t, rec)
			if e.Kind != tt.wantKind || e.Status != tt.wantStatus {
				t.Errorf("error = %+v", e)
			}
			if (e.Upstream != nil) != tt.wantUpstream {
				t.Errorf("upstream = %+v, want present=%v", e.Upstream, tt.wantUpstream)
			}
			if tt.wantUpstream && (e.Upstream.Status != 503 || e.Upstream.Body != "maintenance") {
				t.Errorf("upstream = %+v", e.Upstream)
			}
		})
	}
}

func TestGetShipment(t *testing.T) {
	name := "Acme"
	svc := &mockShipments{getOneFn: func(_ context.Context, id string) (shipment.Record, []pipeline.Miss, error) {
		if id == "404" {
			return shipment.Record{}, nil, shipment.Errorf(shipment.KindNotFound, "shipment 404 not found")
		}
		return shipment.Record{ID: id, CustomerName: &name},
			[]pipeline.Miss{{ObjectType: "ShipVia", ID: "UPS", Error: "gone"}}, nil
	}}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodGet, "/shipments/77", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ShipmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Shipment.ID != "77" || resp.Shipment.CustomerLabel() != "Acme" || len(resp.Misses) != 1 {
		t.Errorf("response = %+v", resp)
	}

	rec = doRequest(t, h, http.MethodGet, "/shipments/404", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing shipment status = %d, want 404", rec.Code)
	}
}

func TestGetCartons(t *testing.T) {
	svc := &mockShipments{cartonsFn: func(_ context.Context, id string) (pipeline.CartonResult, error) {
		return pipeline.CartonResult{
			Shipment: id,
			Cartons:  []shipment.Carton{{ID: "C1", Shipment: id, Contents: []shipment.Content{{ID: "L1", Job: "J1"}}}},
		}, nil
	}}
	rec := doRequest(t, newTestHandler(t, svc, nil), http.MethodGet, "/shipments/5/cartons", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res pipeline.CartonResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Shipment != "5" || len(res.Cartons) != 1 || len(res.Cartons[0].Contents) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestInvalidateCache(t *testing.T) {
	svc := &mockShipments{invalidateCount: 3}
	h := newTestHandler(t, svc, nil)

	rec := doRequest(t, h, http.MethodDelete, "/cache", map[string]string{SessionHeader: "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"entries":3`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	doRequest(t, h, http.MethodDelete, "/cache?all=true", map[string]string{SessionHeader: "bob"})

	if len(svc.invalidated) != 2 || svc.invalidated[0] != "bob" || svc.invalidated[1] != "" {
		t.Errorf("invalidated = %q, want [bob \"\"]", svc.invalidated)
	}
}

func TestListCorruptions(t *testing.T) {
	seen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	corr := &mockCorruptions{list: []storage.Corruption{
		{ObjectType: "Shipment", RecordID: "7", FirstSeen: seen, LastSeen: seen, Occurrences: 2},
	}}
	h := newTestHandler(t, &mockShipments{}, corr)

	rec := doRequest(t, h, http.MethodGet, "/diagnostics/corruptions?all=true&limit=5000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []storage.Corruption
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].RecordID != "7" {
		t.Errorf("list = %+v", list)
	}
	if !corr.includeResolved || corr.limit != 1000 {
		t.Errorf("includeResolved=%v limit=%d, want true 1000", corr.includeResolved, corr.limit)
	}
}

func TestListCorruptions_EmptyAndFailing(t *testing.T) {
	rec := doRequest(t, newTestHandler(t, &mockShipments{}, &mockCorruptions{}), http.MethodGet, "/diagnostics/corruptions", nil)
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty list body = %s, want []", got)
	}

	rec = doRequest(t, newTestHandler(t, &mockShipments{}, &mockCorruptions{err: errors.New("disk full")}), http.MethodGet, "/diagnostics/corruptions", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
