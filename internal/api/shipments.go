package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alitho/shipview/internal/pipeline"
	"github.com/alitho/shipview/internal/shipment"
	"github.com/alitho/shipview/internal/storage"
)

// SessionHeader selects the caller's cache partition.
const SessionHeader = "X-Session-ID"

// ShipmentService is the read path the handlers serve.
type ShipmentService interface {
	Search(ctx context.Context, session string, f shipment.Filter) (pipeline.Page, error)
	GetOne(ctx context.Context, id string) (shipment.Record, []pipeline.Miss, error)
	GetCartons(ctx context.Context, shipmentID string) (pipeline.CartonResult, error)
	Invalidate(session string) int
}

// CorruptionLister exposes the corruption ledger.
type CorruptionLister interface {
	ListCorruptions(ctx context.Context, includeResolved bool, limit int) ([]storage.Corruption, error)
}

type Deps struct {
	Shipments   ShipmentService
	Corruptions CorruptionLister // optional
	Token       string
	Metrics     http.Handler // optional; served unauthenticated at /metrics
}

// ShipmentResponse is a single shipment plus any references that could not
// be resolved.
type ShipmentResponse struct {
	Shipment shipment.Record `json:"shipment"`
	Misses   []pipeline.Miss `json:"misses,omitempty"`
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/shipments", handleSearch(deps))
		r.Get("/shipments/{id}", handleGetShipment(deps))
		r.Get("/shipments/{id}/cartons", handleGetCartons(deps))
		r.Delete("/cache", handleInvalidate(deps))
		r.Get("/diagnostics/corruptions", handleListCorruptions(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filterFromQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		page, err := deps.Shipments.Search(r.Context(), session(r), f)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, page)
	}
}

func handleGetShipment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, misses, err := deps.Shipments.GetOne(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, ShipmentResponse{Shipment: rec, Misses: misses})
	}
}

func handleGetCartons(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Shipments.GetCartons(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

// handleInvalidate drops the caller's cached pages, or every session's with
// ?all=true.
func handleInvalidate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := session(r)
		if r.URL.Query().Get("all") == "true" {
			s = ""
		}
		n := deps.Shipments.Invalidate(s)
		writeJSON(w, map[string]any{"status": "invalidated", "entries": n})
	}
}

func handleListCorruptions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Corruptions == nil {
			writeJSON(w, []storage.Corruption{})
			return
		}
		limit := parseIntParam(r, "limit", 100, 1000)
		includeResolved := r.URL.Query().Get("all") == "true"

		list, err := deps.Corruptions.ListCorruptions(r.Context(), includeResolved, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, kindInternal, "failed to list corruptions: %v", err)
			return
		}
		if list == nil {
			list = []storage.Corruption{}
		}
		writeJSON(w, list)
	}
}

func session(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(SessionHeader)); s != "" {
		return s
	}
	return pipeline.DefaultSession
}

// filterFromQuery reads the search filter from the query string. Paging
// values must be integers; range checks are left to Filter.Validate.
func filterFromQuery(r *http.Request) (shipment.Filter, error) {
	q := r.URL.Query()
	f := shipment.Filter{
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Job:       q.Get("job"),
		Customer:  q.Get("customer"),
	}
	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		return f, shipment.Errorf(shipment.KindValidationError, "page: %v", err)
	}
	if f.PageSize, err = intParam(q.Get("pageSize")); err != nil {
		return f, shipment.Errorf(shipment.KindValidationError, "pageSize: %v", err)
	}
	return f, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
