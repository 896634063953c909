package service

import (
	"context"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
)

// NfceAdapter exposes the NFC-e model through the fiscal adapter seam.
// It also supports contingency introspection and replay.
type NfceAdapter struct {
	processor *NfceProcessor
}

// NewNfceAdapter creates the NFC-e adapter around a processor.
func NewNfceAdapter(processor *NfceProcessor) *NfceAdapter {
	return &NfceAdapter{processor: processor}
}

func (a *NfceAdapter) Emit(ctx context.Context, req *domain.InvoiceRequest) (*domain.FiscalResult, error) {
	if req == nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "é obrigatório"}
	}
	res, err := a.processor.Emit(ctx, EmitInput{
		SaleRef:     req.SaleID,
		Items:       req.Items,
		Environment: req.Environment,
		Offline:     req.UseContingency,
		Reason:      req.ContingencyReason,
	})
	if err != nil {
		return nil, err
	}
	return toFiscalResult(res), nil
}

func (a *NfceAdapter) Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.FiscalResult, error) {
	if req == nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "é obrigatório"}
	}
	res, err := a.processor.Cancel(ctx, req.AccessKey, req.Justification)
	if err != nil {
		return nil, err
	}
	return toFiscalResult(res), nil
}

func (a *NfceAdapter) Status(ctx context.Context, accessKey string) (*domain.FiscalResult, error) {
	res, err := a.processor.Status(ctx, accessKey)
	if err != nil {
		return nil, err
	}
	return toFiscalResult(res), nil
}

func (a *NfceAdapter) PendingContingency(ctx context.Context) ([]domain.ContingencyStatus, error) {
	records, err := a.processor.PendingContingency(ctx)
	if err != nil {
		return nil, err
	}
	return toContingencyStatus(records), nil
}

func (a *NfceAdapter) ReplayContingency(ctx context.Context) (*domain.ReplayReport, error) {
	return a.processor.Replay(ctx)
}

func (a *NfceAdapter) FlushContingency(ctx context.Context) ([]domain.ContingencyStatus, error) {
	records, err := a.processor.FlushContingency(ctx)
	if err != nil {
		return nil, err
	}
	return toContingencyStatus(records), nil
}

func toFiscalResult(res *domain.EmissionResult) *domain.FiscalResult {
	out := &domain.FiscalResult{
		Success:     res.Success,
		Message:     res.Message,
		Protocol:    res.Protocol,
		AccessKey:   res.AccessKey,
		Contingency: res.Contingency,
	}
	if res.Document != "" {
		out.DocumentPreview = domain.StrPtr(res.Document)
	}
	return out
}

func toContingencyStatus(records []domain.ContingencyRecord) []domain.ContingencyStatus {
	out := make([]domain.ContingencyStatus, 0, len(records))
	for _, r := range records {
		out = append(out, domain.ContingencyStatus{
			Reference: r.Reference,
			Payload:   r.Payload,
			QueuedAt:  r.CreatedAt,
			Reason:    r.Reason,
		})
	}
	return out
}
