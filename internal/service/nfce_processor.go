package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/observability"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/resilience"
	"github.com/boddenberg/pdv-fiscal-go/internal/nfce"
	"github.com/boddenberg/pdv-fiscal-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/fiscal")

// ContingencyPrefix starts every locally generated contingency reference.
const ContingencyPrefix = "CONT-"

const (
	msgContingencyEmitted   = "Documento emitido em contingência offline."
	msgContingencyDiscarded = "Documento em contingência %s descartado antes do envio: %s"
	fallbackReasonPrefix    = "falha de comunicação: "
)

// ProcessorOptions tunes how the processor talks to the authority.
type ProcessorOptions struct {
	// Retry is applied to authority calls that failed with
	// ErrAuthorityUnavailable. Zero MaxRetries means one attempt.
	// MaxConcurrency caps in-flight authority calls.
	Retry resilience.Config

	// AuthorityTimeout bounds each authority call. Zero means only the
	// caller's context applies.
	AuthorityTimeout time.Duration

	// AutoContingency queues the signed document when an online submit
	// cannot reach the authority. Rejections are never queued.
	AutoContingency bool

	// DefaultEnvironment applies when a request names no environment.
	DefaultEnvironment string

	// NewReference generates contingency references. Defaults to
	// CONT- followed by 8 hex characters.
	NewReference func() string
}

// EmitInput is one emission request as seen by the processor.
type EmitInput struct {
	SaleRef     string
	Items       []domain.InvoiceItem
	Environment string
	Offline     bool
	Reason      *string
}

// NfceProcessor builds, signs and routes NFC-e documents to the authority
// or to the contingency queue.
type NfceProcessor struct {
	builder   *nfce.Builder
	signer    *nfce.Signer
	authority port.AuthorityClient
	queue     port.ContingencyQueue
	opts      ProcessorOptions
	bulkhead  *resilience.Bulkhead
	metrics   *observability.Metrics
	logger    *zap.Logger

	// queueMu serializes replay with local discard and flush, so a record
	// is either transmitted or handed back to the caller, never both.
	queueMu sync.Mutex
}

// NewNfceProcessor creates the processor with all dependencies injected.
func NewNfceProcessor(
	builder *nfce.Builder,
	signer *nfce.Signer,
	authority port.AuthorityClient,
	queue port.ContingencyQueue,
	opts ProcessorOptions,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *NfceProcessor {
	if opts.NewReference == nil {
		opts.NewReference = func() string { return ContingencyPrefix + uuid.NewString()[:8] }
	}
	maxConcurrency := opts.Retry.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 50
	}
	return &NfceProcessor{
		builder:   builder,
		signer:    signer,
		authority: authority,
		queue:     queue,
		opts:      opts,
		bulkhead:  resilience.NewBulkhead(maxConcurrency),
		metrics:   metrics,
		logger:    logger,
	}
}

// Emit builds and signs the document, then queues it (offline) or submits it.
func (p *NfceProcessor) Emit(ctx context.Context, in EmitInput) (*domain.EmissionResult, error) {
	ctx, span := tracer.Start(ctx, "NfceProcessor.Emit")
	defer span.End()
	span.SetAttributes(
		attribute.String("sale.ref", in.SaleRef),
		attribute.Int("items.count", len(in.Items)),
		attribute.Bool("offline", in.Offline),
	)

	start := time.Now()
	defer func() {
		p.metrics.RecordOperationDuration("emit", time.Since(start))
	}()

	mode := observability.ModeOnline
	if in.Offline {
		mode = observability.ModeContingency
	}

	environment := in.Environment
	if environment == "" {
		environment = p.opts.DefaultEnvironment
	}
	doc, err := p.builder.BuildForEnvironment(environment, in.SaleRef, in.Items)
	if err != nil {
		p.metrics.IncrEmission(mode, observability.OutcomeFailure)
		return nil, err
	}
	signed := p.signer.Sign(doc)

	if in.Offline {
		res, err := p.enqueue(ctx, in.SaleRef, signed, in.Reason, "manual")
		if err != nil {
			p.metrics.IncrEmission(mode, observability.OutcomeFailure)
			return nil, err
		}
		p.metrics.IncrEmission(mode, observability.OutcomeSuccess)
		return res, nil
	}

	resp, err := p.callAuthority(ctx, "submit", func(ctx context.Context) (*domain.AuthorityResponse, error) {
		return p.authority.Submit(ctx, signed)
	})
	if err != nil {
		if p.opts.AutoContingency && isCommunicationFailure(err) {
			p.logger.Warn("authority unreachable, falling back to contingency",
				zap.String("sale_ref", in.SaleRef),
				zap.Error(err),
			)
			reason := fallbackReasonPrefix + err.Error()
			res, qerr := p.enqueue(ctx, in.SaleRef, signed, &reason, "fallback")
			if qerr != nil {
				p.metrics.IncrEmission(observability.ModeContingency, observability.OutcomeFailure)
				return nil, fmt.Errorf("contingency fallback: %w", errors.Join(err, qerr))
			}
			p.metrics.IncrEmission(observability.ModeContingency, observability.OutcomeSuccess)
			return res, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.IncrEmission(mode, observability.OutcomeFailure)
		p.logger.Error("nfce submit failed",
			zap.String("sale_ref", in.SaleRef),
			zap.Error(err),
		)
		return nil, err
	}

	outcome := observability.OutcomeSuccess
	if !resp.Success {
		outcome = observability.OutcomeFailure
	}
	p.metrics.IncrEmission(mode, outcome)

	p.logger.Info("nfce submitted",
		zap.String("sale_ref", in.SaleRef),
		zap.Bool("success", resp.Success),
		zap.Stringp("protocol", resp.Protocol),
		zap.Stringp("access_key", resp.AccessKey),
	)

	return mapResponse(resp, signed.Document), nil
}

// Cancel cancels an authorized document. A CONT- reference still in the
// queue was never sent, so it is discarded locally instead.
func (p *NfceProcessor) Cancel(ctx context.Context, accessKey, justification string) (*domain.EmissionResult, error) {
	ctx, span := tracer.Start(ctx, "NfceProcessor.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("nfce.access_key", accessKey))

	start := time.Now()
	defer func() {
		p.metrics.RecordOperationDuration("cancel", time.Since(start))
	}()

	accessKey = strings.TrimSpace(accessKey)
	justification = strings.TrimSpace(justification)
	if accessKey == "" {
		return nil, &domain.ErrValidation{Field: "access_key", Message: "é obrigatório"}
	}
	if justification == "" {
		return nil, &domain.ErrValidation{Field: "justification", Message: "é obrigatório"}
	}

	if strings.HasPrefix(accessKey, ContingencyPrefix) {
		return p.discardQueued(ctx, accessKey, justification)
	}

	resp, err := p.callAuthority(ctx, "cancel", func(ctx context.Context) (*domain.AuthorityResponse, error) {
		return p.authority.Cancel(ctx, accessKey, justification)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("nfce cancel failed", zap.String("access_key", accessKey), zap.Error(err))
		return nil, err
	}

	p.logger.Info("nfce cancelled",
		zap.String("access_key", accessKey),
		zap.Stringp("protocol", resp.Protocol),
	)
	return mapResponse(resp, ""), nil
}

// Status queries the authority for a document.
func (p *NfceProcessor) Status(ctx context.Context, accessKey string) (*domain.EmissionResult, error) {
	ctx, span := tracer.Start(ctx, "NfceProcessor.Status")
	defer span.End()
	span.SetAttributes(attribute.String("nfce.access_key", accessKey))

	start := time.Now()
	defer func() {
		p.metrics.RecordOperationDuration("status", time.Since(start))
	}()

	accessKey = strings.TrimSpace(accessKey)
	if accessKey == "" {
		return nil, &domain.ErrValidation{Field: "access_key", Message: "é obrigatório"}
	}

	resp, err := p.callAuthority(ctx, "status", func(ctx context.Context) (*domain.AuthorityResponse, error) {
		return p.authority.Status(ctx, accessKey)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return mapResponse(resp, ""), nil
}

// Replay submits queued documents oldest first. Each accepted record is
// removed; the first failure stops the run and leaves it and every later
// record in place.
func (p *NfceProcessor) Replay(ctx context.Context) (*domain.ReplayReport, error) {
	ctx, span := tracer.Start(ctx, "NfceProcessor.Replay")
	defer span.End()

	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	start := time.Now()
	defer func() {
		p.metrics.RecordOperationDuration("replay", time.Since(start))
	}()

	pending, err := p.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}

	report := &domain.ReplayReport{Replayed: []domain.ReplayedRecord{}}
	for _, rec := range pending {
		doc := domain.SignedDocument{Document: rec.Payload, CertificateSerial: p.signer.CertificateSerial()}
		resp, err := p.callAuthority(ctx, "submit", func(ctx context.Context) (*domain.AuthorityResponse, error) {
			return p.authority.Submit(ctx, doc)
		})
		if err == nil && !resp.Success {
			err = &domain.ErrAuthorityRejected{Operation: "submit", Reason: resp.Message}
		}
		removed := false
		if err == nil {
			removed, err = p.queue.Remove(ctx, rec.Reference)
		}
		if err != nil {
			report.Failed = &domain.ReplayFailure{Reference: rec.Reference, Error: err.Error()}
			p.logger.Warn("contingency replay stopped",
				zap.String("reference", rec.Reference),
				zap.Error(err),
			)
			break
		}

		transmitted := domain.ReplayedRecord{
			Reference: rec.Reference,
			Protocol:  resp.Protocol,
			AccessKey: resp.AccessKey,
		}
		if !removed {
			// Another process drained the record while it was being submitted.
			report.Conflicts = append(report.Conflicts, transmitted)
			p.logger.Error("contingency record authorized after leaving the queue",
				zap.String("reference", rec.Reference),
				zap.Stringp("protocol", resp.Protocol),
				zap.Stringp("access_key", resp.AccessKey),
			)
			continue
		}

		report.Replayed = append(report.Replayed, transmitted)
		p.logger.Info("contingency document transmitted",
			zap.String("reference", rec.Reference),
			zap.Stringp("protocol", resp.Protocol),
			zap.Stringp("access_key", resp.AccessKey),
		)
	}

	p.metrics.AddContingencyReplayed(len(report.Replayed))
	report.Remaining = len(pending) - len(report.Replayed) - len(report.Conflicts)
	if n, err := p.queue.Len(ctx); err == nil {
		report.Remaining = n
		p.metrics.SetContingencyPending(n)
	}
	span.SetAttributes(
		attribute.Int("replay.replayed", len(report.Replayed)),
		attribute.Int("replay.remaining", report.Remaining),
	)
	return report, nil
}

// PendingContingency returns the queued records without draining them.
func (p *NfceProcessor) PendingContingency(ctx context.Context) ([]domain.ContingencyRecord, error) {
	return p.queue.Pending(ctx)
}

// FlushContingency empties the queue and returns what it held.
func (p *NfceProcessor) FlushContingency(ctx context.Context) ([]domain.ContingencyRecord, error) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	records, err := p.queue.Flush(ctx)
	if err != nil {
		return nil, err
	}
	p.metrics.SetContingencyPending(0)
	p.logger.Warn("contingency queue flushed", zap.Int("records", len(records)))
	return records, nil
}

func (p *NfceProcessor) enqueue(
	ctx context.Context,
	saleRef string,
	signed domain.SignedDocument,
	reason *string,
	trigger string,
) (*domain.EmissionResult, error) {
	reference := p.opts.NewReference()
	if _, err := p.queue.Enqueue(ctx, reference, signed.Document, reason); err != nil {
		p.logger.Error("contingency enqueue failed",
			zap.String("sale_ref", saleRef),
			zap.String("reference", reference),
			zap.Error(err),
		)
		return nil, err
	}
	p.metrics.IncrContingencyEnqueued(trigger)
	if n, err := p.queue.Len(ctx); err == nil {
		p.metrics.SetContingencyPending(n)
	}

	p.logger.Info("nfce queued in contingency",
		zap.String("sale_ref", saleRef),
		zap.String("reference", reference),
		zap.String("trigger", trigger),
	)

	return &domain.EmissionResult{
		Success:     true,
		Message:     msgContingencyEmitted,
		Protocol:    &reference,
		Contingency: true,
		Document:    signed.Document,
	}, nil
}

func (p *NfceProcessor) discardQueued(ctx context.Context, reference, justification string) (*domain.EmissionResult, error) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	removed, err := p.queue.Remove(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, &domain.ErrNotFound{Resource: "contingency record", ID: reference}
	}
	if n, err := p.queue.Len(ctx); err == nil {
		p.metrics.SetContingencyPending(n)
	}

	p.logger.Info("queued nfce discarded",
		zap.String("reference", reference),
		zap.String("justification", justification),
	)

	ref := reference
	return &domain.EmissionResult{
		Success:     true,
		Message:     fmt.Sprintf(msgContingencyDiscarded, reference, justification),
		Protocol:    &ref,
		Contingency: true,
	}, nil
}

// callAuthority runs one authority operation inside the bulkhead, with the
// per-call timeout and the retry policy.
func (p *NfceProcessor) callAuthority(
	ctx context.Context,
	op string,
	call func(ctx context.Context) (*domain.AuthorityResponse, error),
) (*domain.AuthorityResponse, error) {
	if err := p.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrAuthorityUnavailable{
			Operation: op,
			Timeout:   errors.Is(err, context.DeadlineExceeded),
			Err:       err,
		}
	}
	defer p.bulkhead.Release()

	var resp *domain.AuthorityResponse
	err := resilience.RetryWithBackoff(ctx, p.opts.Retry, func() error {
		callCtx, cancel := p.withTimeout(ctx)
		defer cancel()

		started := time.Now()
		r, err := call(callCtx)
		p.metrics.RecordAuthorityDuration(op, time.Since(started))

		if err != nil {
			p.metrics.IncrAuthorityError(errorKind(err))
			var unavailable *domain.ErrAuthorityUnavailable
			if errors.As(err, &unavailable) {
				return err
			}
			return resilience.Permanent(err)
		}
		if r == nil {
			p.metrics.IncrAuthorityError("malformed")
			return resilience.Permanent(&domain.ErrMalformedResponse{Operation: op, Err: errors.New("empty response")})
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *NfceProcessor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.AuthorityTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opts.AuthorityTimeout)
}

func mapResponse(resp *domain.AuthorityResponse, document string) *domain.EmissionResult {
	return &domain.EmissionResult{
		Success:     resp.Success,
		Message:     resp.Message,
		Protocol:    resp.Protocol,
		AccessKey:   resp.AccessKey,
		Contingency: false,
		Document:    document,
	}
}

// isCommunicationFailure reports errors where the authority never answered.
func isCommunicationFailure(err error) bool {
	var unavailable *domain.ErrAuthorityUnavailable
	var circuitOpen *domain.ErrCircuitOpen
	return errors.As(err, &unavailable) || errors.As(err, &circuitOpen)
}

func errorKind(err error) string {
	var (
		unavailable *domain.ErrAuthorityUnavailable
		rejected    *domain.ErrAuthorityRejected
		malformed   *domain.ErrMalformedResponse
		circuitOpen *domain.ErrCircuitOpen
		notFound    *domain.ErrNotFound
	)
	switch {
	case errors.As(err, &unavailable):
		if unavailable.Timeout {
			return "timeout"
		}
		return "unavailable"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &circuitOpen):
		return "circuit_open"
	case errors.As(err, &notFound):
		return "not_found"
	default:
		return "other"
	}
}
