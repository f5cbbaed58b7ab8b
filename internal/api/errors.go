package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alitho/shipview/internal/shipment"
)

const (
	kindUnauthorized  = "Unauthorized"
	kindMisconfigured = "misconfigured"
	kindInternal      = "InternalError"
)

type upstreamDetail struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

type errorBody struct {
	Kind     string          `json:"kind"`
	Message  string          `json:"message"`
	Status   int             `json:"status"`
	Upstream *upstreamDetail `json:"upstream,omitempty"`
}

func httpError(w http.ResponseWriter, code int, kind string, format string, args ...any) {
	writeEnvelope(w, errorBody{Kind: kind, Message: fmt.Sprintf(format, args...), Status: code})
}

func writeEnvelope(w http.ResponseWriter, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Status)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writeError maps a pipeline error to its HTTP status. Missing credentials
// are reported as a misconfiguration (500), never as an upstream failure.
func writeError(w http.ResponseWriter, err error) {
	var se *shipment.Error
	if !errors.As(err, &se) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			httpError(w, http.StatusGatewayTimeout, kindInternal, "request cancelled: %v", err)
			return
		}
		slog.Error("api: unclassified error", "error", err)
		httpError(w, http.StatusInternalServerError, kindInternal, "%v", err)
		return
	}

	body := errorBody{Kind: string(se.Kind), Message: se.Message, Status: statusFor(se.Kind)}
	if body.Message == "" {
		body.Message = se.Error()
	}
	if se.Kind == shipment.KindUpstreamCredentialsMissing {
		body.Kind = kindMisconfigured
	}
	if se.Status != 0 && se.Kind == shipment.KindUpstreamQueryFailed {
		body.Upstream = &upstreamDetail{Status: se.Status, Body: se.Body}
	}
	if body.Status >= 500 {
		slog.Error("api: request failed", "kind", se.Kind, "error", err)
	}
	writeEnvelope(w, body)
}

func statusFor(k shipment.Kind) int {
	switch k {
	case shipment.KindValidationError:
		return http.StatusBadRequest
	case shipment.KindNotFound:
		return http.StatusNotFound
	case shipment.KindUpstreamQueryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
