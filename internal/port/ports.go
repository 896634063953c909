// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the fiscal
// orchestration from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
)

// AuthorityClient talks to the fiscal authority (SEFAZ).
// Every call may block on network I/O and must honour ctx.
type AuthorityClient interface {
	Submit(ctx context.Context, doc domain.SignedDocument) (*domain.AuthorityResponse, error)
	Cancel(ctx context.Context, accessKey, justification string) (*domain.AuthorityResponse, error)
	Status(ctx context.Context, accessKey string) (*domain.AuthorityResponse, error)
}

// ContingencyQueue holds signed documents that were not sent to the authority.
// Records are kept in insertion order. Flush reads and clears atomically.
type ContingencyQueue interface {
	Enqueue(ctx context.Context, reference, payload string, reason *string) (domain.ContingencyRecord, error)
	Pending(ctx context.Context) ([]domain.ContingencyRecord, error)
	Flush(ctx context.Context) ([]domain.ContingencyRecord, error)
	Remove(ctx context.Context, reference string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// FiscalAdapter is one fiscal document model (NFC-e, SAT, ...).
type FiscalAdapter interface {
	Emit(ctx context.Context, req *domain.InvoiceRequest) (*domain.FiscalResult, error)
	Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.FiscalResult, error)
	Status(ctx context.Context, accessKey string) (*domain.FiscalResult, error)
}

// ContingencyInspector is implemented by adapters that queue documents offline.
type ContingencyInspector interface {
	PendingContingency(ctx context.Context) ([]domain.ContingencyStatus, error)
}

// ContingencyReplayer is implemented by adapters that can resend or drain
// their contingency queue.
type ContingencyReplayer interface {
	ReplayContingency(ctx context.Context) (*domain.ReplayReport, error)
	FlushContingency(ctx context.Context) ([]domain.ContingencyStatus, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
