package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into dst. Bodies over the limit and
// trailing garbage are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return &domain.ErrValidation{Field: "body", Message: "corpo da requisição vazio"}
		}
		return &domain.ErrValidation{Field: "body", Message: fmt.Sprintf("JSON inválido: %v", err)}
	}
	if dec.More() {
		return &domain.ErrValidation{Field: "body", Message: "JSON inválido: conteúdo após o objeto"}
	}
	return nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var rejected *domain.ErrAuthorityRejected
	var unavailable *domain.ErrAuthorityUnavailable
	var malformed *domain.ErrMalformedResponse
	var circuitOpen *domain.ErrCircuitOpen
	var queueErr *domain.ErrQueue
	var unsupported *domain.ErrUnsupported
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		logger.Debug("request body too large", zap.Int64("limit", tooLarge.Limit))
		writeError(w, http.StatusRequestEntityTooLarge, "corpo da requisição excede o limite")
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &rejected):
		logger.Warn("authority rejected",
			zap.String("operation", rejected.Operation),
			zap.String("cstat", rejected.Code),
		)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &unavailable):
		if unavailable.Timeout {
			logger.Error("authority timeout", zap.Error(err))
			writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		logger.Error("authority unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &malformed):
		logger.Error("malformed authority response", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &unsupported):
		logger.Debug("unsupported operation", zap.String("capability", unsupported.Capability))
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.As(err, &queueErr):
		logger.Error("contingency store failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "falha no armazenamento de contingência")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
