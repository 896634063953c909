package sefaz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sefaz")

// ServiceName labels breaker, spans and metrics for the authority.
const ServiceName = "sefaz"

// cStat values the gateway answers with.
const (
	statAuthorized       = "100"
	statCancelled        = "101"
	statEventRegistered  = "135"
	statAuthorizedLate   = "150"
	statCancelledLate    = "155"
	statNotInDatabase    = "217"
	maxResponseBodyBytes = 1 << 20
)

// gatewayResponse is the JSON body returned by the NFC-e gateway.
type gatewayResponse struct {
	CStat    string    `json:"cStat"`
	XMotivo  string    `json:"xMotivo"`
	NProt    string    `json:"nProt"`
	ChNFe    string    `json:"chNFe"`
	DhRecbto time.Time `json:"dhRecbto"`
}

type submitBody struct {
	XML         string `json:"xml"`
	Certificado string `json:"certificado"`
}

type cancelBody struct {
	ChNFe string `json:"chNFe"`
	XJust string `json:"xJust"`
}

// HTTPClient talks JSON to an NFC-e gateway in front of SEFAZ.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	now        func() time.Time
}

// NewHTTPClient creates a new HTTPClient. Build cb with
// resilience.NewCircuitBreakerWithFilter(ServiceName, IsBreakerSuccess) so
// rejections do not trip it.
func NewHTTPClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *HTTPClient {
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
		now:        time.Now,
	}
}

// IsBreakerSuccess reports whether err is an answer from a healthy authority.
func IsBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var rejected *domain.ErrAuthorityRejected
	var notFound *domain.ErrNotFound
	return errors.As(err, &rejected) || errors.As(err, &notFound)
}

// Submit sends a signed document for authorization.
func (c *HTTPClient) Submit(ctx context.Context, doc domain.SignedDocument) (*domain.AuthorityResponse, error) {
	ctx, span := tracer.Start(ctx, "HTTPClient.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("certificate.serial", doc.CertificateSerial))

	body, err := json.Marshal(submitBody{XML: doc.Document, Certificado: doc.CertificateSerial})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "submit", "", http.MethodPost, "/v1/nfce/autorizacao", body, func(g *gatewayResponse) (bool, error) {
		switch g.CStat {
		case statAuthorized, statAuthorizedLate:
			if g.NProt == "" || g.ChNFe == "" {
				return false, errors.New("authorized without protocol or access key")
			}
			return true, nil
		}
		return false, &domain.ErrAuthorityRejected{Operation: "submit", Code: g.CStat, Reason: g.XMotivo}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

// Cancel registers the cancellation event for an authorized document.
func (c *HTTPClient) Cancel(ctx context.Context, accessKey, justification string) (*domain.AuthorityResponse, error) {
	ctx, span := tracer.Start(ctx, "HTTPClient.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("nfce.access_key", accessKey))

	body, err := json.Marshal(cancelBody{ChNFe: accessKey, XJust: justification})
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "cancel", accessKey, http.MethodPost, "/v1/nfce/cancelamento", body, func(g *gatewayResponse) (bool, error) {
		switch g.CStat {
		case statCancelled, statEventRegistered, statCancelledLate:
			return true, nil
		case statNotInDatabase:
			return false, &domain.ErrNotFound{Resource: "nfce", ID: accessKey}
		}
		return false, &domain.ErrAuthorityRejected{Operation: "cancel", Code: g.CStat, Reason: g.XMotivo}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.AccessKey == nil {
		resp.AccessKey = &accessKey
	}
	return resp, nil
}

// Status queries the current situation of a document. A cancelled document
// is a valid answer with Success false.
func (c *HTTPClient) Status(ctx context.Context, accessKey string) (*domain.AuthorityResponse, error) {
	ctx, span := tracer.Start(ctx, "HTTPClient.Status")
	defer span.End()
	span.SetAttributes(attribute.String("nfce.access_key", accessKey))

	path := fmt.Sprintf("/v1/nfce/%s/situacao", url.PathEscape(accessKey))
	resp, err := c.call(ctx, "status", accessKey, http.MethodGet, path, nil, func(g *gatewayResponse) (bool, error) {
		switch g.CStat {
		case statAuthorized, statAuthorizedLate:
			return true, nil
		case statCancelled, statEventRegistered, statCancelledLate:
			return false, nil
		case statNotInDatabase:
			return false, &domain.ErrNotFound{Resource: "nfce", ID: accessKey}
		}
		return false, &domain.ErrAuthorityRejected{Operation: "status", Code: g.CStat, Reason: g.XMotivo}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.AccessKey == nil {
		resp.AccessKey = &accessKey
	}
	return resp, nil
}

// call runs one gateway request through the breaker and the retry loop.
// interpret turns a decoded body into the success flag or a typed error.
func (c *HTTPClient) call(
	ctx context.Context,
	op, key, method, path string,
	body []byte,
	interpret func(*gatewayResponse) (bool, error),
) (*domain.AuthorityResponse, error) {
	var out domain.AuthorityResponse

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
			if err != nil {
				return err
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return fmt.Errorf("gateway returned status %d", resp.StatusCode)
			case resp.StatusCode == http.StatusNotFound:
				return resilience.Permanent(&domain.ErrNotFound{Resource: "nfce", ID: key})
			case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest &&
				resp.StatusCode != http.StatusUnprocessableEntity:
				return resilience.Permanent(&domain.ErrMalformedResponse{
					Operation: op,
					Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
				})
			}

			var g gatewayResponse
			if err := json.Unmarshal(raw, &g); err != nil {
				return resilience.Permanent(&domain.ErrMalformedResponse{Operation: op, Err: err})
			}
			if g.CStat == "" {
				return resilience.Permanent(&domain.ErrMalformedResponse{Operation: op, Err: errors.New("missing cStat")})
			}

			success, err := interpret(&g)
			if err != nil {
				var rejected *domain.ErrAuthorityRejected
				var notFound *domain.ErrNotFound
				if errors.As(err, &rejected) || errors.As(err, &notFound) {
					return resilience.Permanent(err)
				}
				return resilience.Permanent(&domain.ErrMalformedResponse{Operation: op, Err: err})
			}

			out = c.toResponse(success, &g)
			return nil
		})
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return &out, nil
}

func (c *HTTPClient) toResponse(success bool, g *gatewayResponse) domain.AuthorityResponse {
	r := domain.AuthorityResponse{
		Success:     success,
		Message:     g.XMotivo,
		ProcessedAt: g.DhRecbto.UTC(),
	}
	if g.NProt != "" {
		r.Protocol = domain.StrPtr(g.NProt)
	}
	if g.ChNFe != "" {
		r.AccessKey = domain.StrPtr(g.ChNFe)
	}
	if g.DhRecbto.IsZero() {
		r.ProcessedAt = c.now().UTC()
	}
	return r
}

// classify maps transport and breaker failures into domain errors.
// Typed answers from the authority pass through.
func classify(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: ServiceName}
	}

	var rejected *domain.ErrAuthorityRejected
	var notFound *domain.ErrNotFound
	var malformed *domain.ErrMalformedResponse
	if errors.As(err, &rejected) || errors.As(err, &notFound) || errors.As(err, &malformed) {
		return err
	}

	return &domain.ErrAuthorityUnavailable{Operation: op, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
