package handler

import (
	"net/http"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Fiscal emission
// ============================================================

func emitInvoiceHandler(svc *service.FiscalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/fiscal/nota")
		defer span.End()

		var req domain.InvoiceRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("sale.id", req.SaleID),
			attribute.Bool("contingency", req.UseContingency),
		)

		resp, err := svc.EmitInvoice(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusCreated
		if resp.Contingency {
			status = http.StatusAccepted
		}
		writeJSON(w, status, resp)
	}
}

func cancelInvoiceHandler(svc *service.FiscalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/fiscal/nota/cancelamento")
		defer span.End()

		var req domain.CancelRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("nfce.access_key", req.AccessKey))

		resp, err := svc.CancelInvoice(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func invoiceStatusHandler(svc *service.FiscalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/fiscal/status/{accessKey}")
		defer span.End()

		accessKey := chi.URLParam(r, "accessKey")
		span.SetAttributes(attribute.String("nfce.access_key", accessKey))

		resp, err := svc.Status(ctx, accessKey)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Contingency operations
// ============================================================

func contingencyListHandler(svc *service.FiscalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/fiscal/contingencia")
		defer span.End()

		items, err := svc.ContingencyQueue(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ContingencyList{Total: len(items), Items: items})
	}
}

func contingencyReplayHandler(svc *service.FiscalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/fiscal/contingencia/replay")
		defer span.End()

		report, err := svc.ReplayContingency(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.Int("replayed", len(report.Replayed)),
			attribute.Int("remaining", report.Remaining),
		)
		writeJSON(w, http.StatusOK, report)
	}
}

func contingencyFlushHandler(svc *service.FiscalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/fiscal/contingencia/flush")
		defer span.End()

		items, err := svc.FlushContingency(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ContingencyList{Total: len(items), Items: items})
	}
}

func fiscalMetricsHandler(svc *service.FiscalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Metrics())
	}
}
