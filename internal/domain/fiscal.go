package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Fiscal emission (NFC-e)
// ============================================================

// Fiscal environments accepted on an invoice request.
const (
	EnvironmentHomologation = "homologacao"
	EnvironmentProduction   = "producao"
)

// TaxEntry is a resolved row of a tax classification table.
type TaxEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// InvoiceItem is one sale line as handed to the fiscal pipeline.
type InvoiceItem struct {
	ProductCode string          `json:"product_code"` // internal code or GTIN
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	NCM         string          `json:"ncm"`
	CFOP        string          `json:"cfop"`
	CST         string          `json:"cst"`
	CSOSN       string          `json:"csosn,omitempty"` // Simples Nacional only
}

// SignedDocument is a built document after the signature marker was appended.
type SignedDocument struct {
	Document          string `json:"document"`
	CertificateSerial string `json:"certificate_serial"`
}

// AuthorityResponse is what the fiscal authority (SEFAZ) answered.
type AuthorityResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	Protocol    *string   `json:"protocol"`
	AccessKey   *string   `json:"access_key"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ContingencyRecord is a signed document waiting to be sent to the authority.
type ContingencyRecord struct {
	Reference string    `json:"reference"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Reason    *string   `json:"reason"`
}

// EmissionResult is the processor's output for emit, cancel and status.
// Document is empty for cancel and status.
type EmissionResult struct {
	Success     bool
	Message     string
	Protocol    *string
	AccessKey   *string
	Contingency bool
	Document    string
}

// FiscalResult is the normalized adapter output, independent of the fiscal model.
type FiscalResult struct {
	Success         bool
	Message         string
	Protocol        *string
	AccessKey       *string
	Contingency     bool
	DocumentPreview *string
}

// InvoiceRequest asks for the emission of a sale's fiscal document.
type InvoiceRequest struct {
	SaleID            string        `json:"sale_id"`
	Items             []InvoiceItem `json:"items"`
	Environment       string        `json:"environment,omitempty"` // producao or homologacao
	UseContingency    bool          `json:"use_contingency"`
	ContingencyReason *string       `json:"contingency_reason,omitempty"`
}

// InvoiceResponse is returned by emission and status queries.
type InvoiceResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	Protocol    *string `json:"protocol"`
	AccessKey   *string `json:"access_key"`
	Contingency bool    `json:"contingency"`
	XMLPreview  *string `json:"xml_preview"`
}

// CancelRequest asks the authority to cancel an authorized document.
type CancelRequest struct {
	AccessKey     string `json:"access_key"`
	Justification string `json:"justification"`
}

// CancelResponse is returned by a cancellation.
type CancelResponse struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	Protocol  *string `json:"protocol"`
	AccessKey *string `json:"access_key"`
}

// ContingencyStatus is the operational view of a queued document.
type ContingencyStatus struct {
	Reference string    `json:"reference"`
	Payload   string    `json:"payload"`
	QueuedAt  time.Time `json:"queued_at"`
	Reason    *string   `json:"reason"`
}

// ReplayedRecord is a contingency record accepted by the authority during a replay.
type ReplayedRecord struct {
	Reference string  `json:"reference"`
	Protocol  *string `json:"protocol"`
	AccessKey *string `json:"access_key"`
}

// ReplayFailure describes the record that stopped a replay.
type ReplayFailure struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

// ReplayReport summarizes a contingency replay.
// Conflicts lists records the authority accepted after another process had
// already drained them from the queue.
type ReplayReport struct {
	Replayed  []ReplayedRecord `json:"replayed"`
	Conflicts []ReplayedRecord `json:"conflicts,omitempty"`
	Failed    *ReplayFailure   `json:"failed,omitempty"`
	Remaining int              `json:"remaining"`
}

// FiscalMetrics is a snapshot of the fiscal counters, served by GET /v1/fiscal/metrics.
type FiscalMetrics struct {
	EmittedOnline       int64   `json:"emitted_online"`
	EmittedContingency  int64   `json:"emitted_contingency"`
	EmissionFailures    int64   `json:"emission_failures"`
	ContingencyReplayed int64   `json:"contingency_replayed"`
	ContingencyPending  int64   `json:"contingency_pending"`
	AuthorityErrors     int64   `json:"authority_errors"`
	StatusCacheHitRate  float64 `json:"status_cache_hit_rate"`
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
