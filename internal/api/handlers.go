package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/medassist/appointment-negotiation/internal/negotiation"
)

// NegotiationService runs one negotiation turn to a terminal status.
type NegotiationService interface {
	Negotiate(ctx context.Context, req negotiation.Request) (*negotiation.Response, error)
}

func negotiateHandler(svc NegotiationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req negotiation.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		resp, err := svc.Negotiate(r.Context(), req)
		if err != nil {
			logger.Error("negotiation failed",
				zap.Error(err),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("operation", string(req.Operation)),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "negotiation could not be completed")
			return
		}

		writeJSON(w, httpStatusFor(resp.StatusCode), resp)
	}
}

// httpStatusFor maps terminal status codes onto the HTTP layer. Domain
// outcomes, including "no slots", are 200: the negotiation itself
// succeeded even when the caller got no appointment.
func httpStatusFor(code negotiation.StatusCode) int {
	switch code {
	case negotiation.StatusInvalidRequest:
		return http.StatusBadRequest
	case negotiation.StatusBackendUnavailable:
		return http.StatusBadGateway
	case negotiation.StatusIntegrityFault:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
