package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ppiankov/pgokache/internal/apperr"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

// kindRateLimited is only produced by the rate limiter.
const kindRateLimited = "RATE_LIMITED"

// statusFor maps an error kind to an HTTP status. Failures on the target
// side are reported as 502.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.NotReady, apperr.Conflict:
		return http.StatusConflict
	case apperr.Auth, apperr.Connection, apperr.Permission:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(contextKeyRequestID).(string)
	return id
}

// writeError classifies err and writes it. Internal errors keep their
// detail out of the response body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	detail := apperr.Message(err)
	if kind == apperr.Internal {
		slog.Error("request failed", "requestID", requestID(r), "method", r.Method, "path", r.URL.Path, "error", err)
		detail = "internal error"
	} else {
		slog.Debug("request rejected", "requestID", requestID(r), "kind", kind, "error", err)
	}
	writeErrorResponse(w, r, statusFor(kind), string(kind), detail)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, kind, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail, Kind: kind, RequestID: requestID(r)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "server.decode"
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return apperr.Wrap(err, apperr.Validation, op, "request body too large")
		}
		return apperr.Wrap(err, apperr.Validation, op, "invalid JSON body: "+err.Error())
	}
	return nil
}
