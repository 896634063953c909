// Package sefaz implements port.AuthorityClient: a deterministic mock for
// development and homologation, and an HTTP client for a real gateway.
package sefaz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"

	"github.com/google/uuid"
)

// Messages returned by the mock authority.
const (
	MsgSubmitted  = "XML recebido e processado (mock)."
	MsgAuthorized = "Documento autorizado (mock)."
	msgCancelled  = "Cancelamento registrado (mock) para %s: %s"
)

// MockOption configures a MockClient.
type MockOption func(*MockClient)

// WithClock sets the clock used for ProcessedAt and the access key prefix.
func WithClock(now func() time.Time) MockOption {
	return func(c *MockClient) { c.now = now }
}

// WithIDSource sets the generator used for protocol numbers.
func WithIDSource(next func() string) MockOption {
	return func(c *MockClient) { c.nextID = next }
}

// WithLatency makes every call wait d before answering.
func WithLatency(d time.Duration) MockOption {
	return func(c *MockClient) { c.latency = d }
}

// MockClient always authorizes. It still honours ctx, so callers see the
// same timeout behaviour they would with a real authority.
type MockClient struct {
	now     func() time.Time
	nextID  func() string
	latency time.Duration
}

// NewMockClient creates a mock authority.
func NewMockClient(opts ...MockOption) *MockClient {
	c := &MockClient{
		now:    time.Now,
		nextID: func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit accepts the document and issues a protocol and an access key.
func (c *MockClient) Submit(ctx context.Context, doc domain.SignedDocument) (*domain.AuthorityResponse, error) {
	if doc.Document == "" {
		return nil, &domain.ErrAuthorityRejected{Operation: "submit", Code: "225", Reason: "documento vazio"}
	}
	if err := c.wait(ctx, "submit"); err != nil {
		return nil, err
	}
	now := c.now()
	protocol := c.nextID()
	accessKey := now.Format("0601") + protocol
	return &domain.AuthorityResponse{
		Success:     true,
		Message:     MsgSubmitted,
		Protocol:    &protocol,
		AccessKey:   &accessKey,
		ProcessedAt: now.UTC(),
	}, nil
}

// Cancel registers the cancellation and echoes the access key.
func (c *MockClient) Cancel(ctx context.Context, accessKey, justification string) (*domain.AuthorityResponse, error) {
	if err := c.wait(ctx, "cancel"); err != nil {
		return nil, err
	}
	protocol := c.nextID()
	key := accessKey
	return &domain.AuthorityResponse{
		Success:     true,
		Message:     fmt.Sprintf(msgCancelled, accessKey, justification),
		Protocol:    &protocol,
		AccessKey:   &key,
		ProcessedAt: c.now().UTC(),
	}, nil
}

// Status reports every key as authorized.
func (c *MockClient) Status(ctx context.Context, accessKey string) (*domain.AuthorityResponse, error) {
	if err := c.wait(ctx, "status"); err != nil {
		return nil, err
	}
	protocol := c.nextID()
	key := accessKey
	return &domain.AuthorityResponse{
		Success:     true,
		Message:     MsgAuthorized,
		Protocol:    &protocol,
		AccessKey:   &key,
		ProcessedAt: c.now().UTC(),
	}, nil
}

func (c *MockClient) wait(ctx context.Context, op string) error {
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return &domain.ErrAuthorityUnavailable{
			Operation: op,
			Timeout:   errors.Is(err, context.DeadlineExceeded),
			Err:       err,
		}
	}
	return nil
}
