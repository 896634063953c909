package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/observability"
	"github.com/boddenberg/pdv-fiscal-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Compile-time checks for the NFC-e adapter's capabilities.
var (
	_ port.FiscalAdapter        = (*NfceAdapter)(nil)
	_ port.ContingencyInspector = (*NfceAdapter)(nil)
	_ port.ContingencyReplayer  = (*NfceAdapter)(nil)
)

// FiscalService is the entry point used by transport code. It works with
// any fiscal adapter and only offers contingency operations when the
// adapter implements them.
type FiscalService struct {
	adapter     port.FiscalAdapter
	statusCache port.Cache[domain.InvoiceResponse]
	group       singleflight.Group
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewFiscalService creates the service. statusCache may be nil to disable
// status caching.
func NewFiscalService(
	adapter port.FiscalAdapter,
	statusCache port.Cache[domain.InvoiceResponse],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *FiscalService {
	return &FiscalService{
		adapter:     adapter,
		statusCache: statusCache,
		metrics:     metrics,
		logger:      logger,
	}
}

// EmitInvoice emits the fiscal document for a sale.
func (s *FiscalService) EmitInvoice(ctx context.Context, req *domain.InvoiceRequest) (*domain.InvoiceResponse, error) {
	ctx, span := tracer.Start(ctx, "FiscalService.EmitInvoice")
	defer span.End()
	if req != nil {
		span.SetAttributes(attribute.String("sale.id", req.SaleID))
	}

	res, err := s.adapter.Emit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("emit invoice: %w", err)
	}
	return toInvoiceResponse(res), nil
}

// CancelInvoice cancels a document and drops any cached status for it.
func (s *FiscalService) CancelInvoice(ctx context.Context, req *domain.CancelRequest) (*domain.CancelResponse, error) {
	ctx, span := tracer.Start(ctx, "FiscalService.CancelInvoice")
	defer span.End()

	if req != nil {
		trimmed := *req
		trimmed.AccessKey = strings.TrimSpace(req.AccessKey)
		trimmed.Justification = strings.TrimSpace(req.Justification)
		req = &trimmed
	}

	res, err := s.adapter.Cancel(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cancel invoice: %w", err)
	}
	if s.statusCache != nil && req != nil {
		s.statusCache.Delete(statusCacheKey(req.AccessKey))
	}
	return &domain.CancelResponse{
		Success:   res.Success,
		Message:   res.Message,
		Protocol:  res.Protocol,
		AccessKey: res.AccessKey,
	}, nil
}

// Status returns the authority's view of a document. Concurrent lookups of
// the same key share one authority call, which outlives any single caller;
// the processor's authority timeout bounds it.
func (s *FiscalService) Status(ctx context.Context, accessKey string) (*domain.InvoiceResponse, error) {
	ctx, span := tracer.Start(ctx, "FiscalService.Status")
	defer span.End()
	span.SetAttributes(attribute.String("nfce.access_key", accessKey))

	accessKey = strings.TrimSpace(accessKey)
	if accessKey == "" {
		return nil, &domain.ErrValidation{Field: "access_key", Message: "é obrigatório"}
	}

	key := statusCacheKey(accessKey)
	if s.statusCache != nil {
		if cached, ok := s.statusCache.Get(key); ok {
			s.metrics.IncrCacheHit("status")
			return cloneInvoiceResponse(cached), nil
		}
		s.metrics.IncrCacheMiss("status")
	}

	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		res, err := s.adapter.Status(shared, accessKey)
		if err != nil {
			return nil, err
		}
		out := *toInvoiceResponse(res)
		if s.statusCache != nil && out.Success {
			s.statusCache.Set(key, out)
		}
		return out, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("status: %w", &domain.ErrAuthorityUnavailable{
			Operation: "status",
			Timeout:   errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:       ctx.Err(),
		})
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("status: %w", r.Err)
		}
		if r.Shared {
			s.logger.Debug("status lookup shared", zap.String("access_key", accessKey))
		}
		return cloneInvoiceResponse(r.Val.(domain.InvoiceResponse)), nil
	}
}

// ContingencyQueue lists queued documents. Adapters without a queue
// report an empty list.
func (s *FiscalService) ContingencyQueue(ctx context.Context) ([]domain.ContingencyStatus, error) {
	inspector, ok := s.adapter.(port.ContingencyInspector)
	if !ok {
		return []domain.ContingencyStatus{}, nil
	}
	return inspector.PendingContingency(ctx)
}

// ReplayContingency resends queued documents to the authority.
func (s *FiscalService) ReplayContingency(ctx context.Context) (*domain.ReplayReport, error) {
	ctx, span := tracer.Start(ctx, "FiscalService.ReplayContingency")
	defer span.End()

	replayer, ok := s.adapter.(port.ContingencyReplayer)
	if !ok {
		return nil, &domain.ErrUnsupported{Capability: "contingency replay"}
	}
	report, err := replayer.ReplayContingency(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay contingency: %w", err)
	}
	return report, nil
}

// FlushContingency drains the queue without sending anything.
func (s *FiscalService) FlushContingency(ctx context.Context) ([]domain.ContingencyStatus, error) {
	replayer, ok := s.adapter.(port.ContingencyReplayer)
	if !ok {
		return nil, &domain.ErrUnsupported{Capability: "contingency flush"}
	}
	records, err := replayer.FlushContingency(ctx)
	if err != nil {
		return nil, fmt.Errorf("flush contingency: %w", err)
	}
	return records, nil
}

// Metrics returns the fiscal counters snapshot.
func (s *FiscalService) Metrics() *domain.FiscalMetrics {
	return s.metrics.Snapshot()
}

func statusCacheKey(accessKey string) string {
	return "status:" + accessKey
}

// cloneInvoiceResponse gives each caller its own copy of a shared or cached answer.
func cloneInvoiceResponse(v domain.InvoiceResponse) *domain.InvoiceResponse {
	v.Protocol = cloneString(v.Protocol)
	v.AccessKey = cloneString(v.AccessKey)
	v.XMLPreview = cloneString(v.XMLPreview)
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	return domain.StrPtr(*p)
}

func toInvoiceResponse(res *domain.FiscalResult) *domain.InvoiceResponse {
	return &domain.InvoiceResponse{
		Success:     res.Success,
		Message:     res.Message,
		Protocol:    res.Protocol,
		AccessKey:   res.AccessKey,
		Contingency: res.Contingency,
		XMLPreview:  res.DocumentPreview,
	}
}
