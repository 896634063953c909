package sefaz_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/resilience"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/sefaz"
)

func newHTTPClient(t *testing.T, h http.HandlerFunc, retries int) *sefaz.HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cb := resilience.NewCircuitBreakerWithFilter(t.Name(), sefaz.IsBreakerSuccess)
	return sefaz.NewHTTPClient(srv.Client(), srv.URL, cb, resilience.Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
	})
}

func writeGateway(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestHTTPClient_SubmitAuthorized(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/nfce/autorizacao" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["xml"] != "<NFe/>" || body["certificado"] != "DEMO123456" {
			t.Errorf("unexpected body %v", body)
		}
		writeGateway(w, http.StatusOK, map[string]any{
			"cStat":    "100",
			"xMotivo":  "Autorizado o uso da NF-e",
			"nProt":    "135260000000001",
			"chNFe":    "35260312345678000199650010000000011000000010",
			"dhRecbto": "2026-03-15T10:30:00Z",
		})
	}, 0)

	resp, err := c.Submit(context.Background(), domain.SignedDocument{Document: "<NFe/>", CertificateSerial: "DEMO123456"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !resp.Success || *resp.Protocol != "135260000000001" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.AccessKey == nil || len(*resp.AccessKey) != 44 {
		t.Errorf("unexpected access key %v", resp.AccessKey)
	}
}

func TestHTTPClient_SubmitRejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeGateway(w, http.StatusOK, map[string]any{"cStat": "539", "xMotivo": "Duplicidade de NF-e"})
	}, 3)

	_, err := c.Submit(context.Background(), domain.SignedDocument{Document: "<NFe/>"})

	var rejected *domain.ErrAuthorityRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected ErrAuthorityRejected, got %v", err)
	}
	if rejected.Code != "539" {
		t.Errorf("expected cStat 539, got %s", rejected.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeGateway(w, http.StatusOK, map[string]any{"cStat": "100", "xMotivo": "ok", "nProt": "1", "chNFe": "2"})
	}, 3)

	resp, err := c.Submit(context.Background(), domain.SignedDocument{Document: "<NFe/>"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !resp.Success {
		t.Error("expected success")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_ServerErrorIsUnavailable(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, 1)

	_, err := c.Status(context.Background(), "chave")

	var unavailable *domain.ErrAuthorityUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrAuthorityUnavailable, got %v", err)
	}
	if unavailable.Timeout {
		t.Error("did not expect timeout flag")
	}
}

func TestHTTPClient_MalformedBody(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}, 2)

	_, err := c.Status(context.Background(), "chave")

	var malformed *domain.ErrMalformedResponse
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestHTTPClient_AuthorizedWithoutProtocolIsMalformed(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeGateway(w, http.StatusOK, map[string]any{"cStat": "100", "xMotivo": "ok"})
	}, 0)

	_, err := c.Submit(context.Background(), domain.SignedDocument{Document: "<NFe/>"})

	var malformed *domain.ErrMalformedResponse
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Submit(ctx, domain.SignedDocument{Document: "<NFe/>"})

	var unavailable *domain.ErrAuthorityUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrAuthorityUnavailable, got %v", err)
	}
	if !unavailable.Timeout {
		t.Error("expected timeout flag")
	}
}

func TestHTTPClient_CancelRegistered(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/nfce/cancelamento" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["chNFe"] != "chave" || body["xJust"] != "cliente desistiu da compra" {
			t.Errorf("unexpected body %v", body)
		}
		writeGateway(w, http.StatusOK, map[string]any{"cStat": "135", "xMotivo": "Evento registrado", "nProt": "999"})
	}, 0)

	resp, err := c.Cancel(context.Background(), "chave", "cliente desistiu da compra")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !resp.Success || *resp.Protocol != "999" || *resp.AccessKey != "chave" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHTTPClient_StatusUnknownKey(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/nfce/chave/situacao" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeGateway(w, http.StatusOK, map[string]any{"cStat": "217", "xMotivo": "NF-e nao consta na base"})
	}, 0)

	_, err := c.Status(context.Background(), "chave")

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_StatusCancelledDocument(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeGateway(w, http.StatusOK, map[string]any{"cStat": "101", "xMotivo": "Cancelamento homologado"})
	}, 0)

	resp, err := c.Status(context.Background(), "chave")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Success {
		t.Error("expected success=false for a cancelled document")
	}
	if *resp.AccessKey != "chave" {
		t.Errorf("expected access key to default to the query, got %v", *resp.AccessKey)
	}
}

func TestHTTPClient_CircuitOpens(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, 0)

	for i := 0; i < 5; i++ {
		_, _ = c.Status(context.Background(), "chave")
	}

	_, err := c.Status(context.Background(), "chave")
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHTTPClient_RejectionsDoNotOpenCircuit(t *testing.T) {
	c := newHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeGateway(w, http.StatusOK, map[string]any{"cStat": "539", "xMotivo": "Duplicidade"})
	}, 0)

	for i := 0; i < 10; i++ {
		_, _ = c.Submit(context.Background(), domain.SignedDocument{Document: "<NFe/>"})
	}

	_, err := c.Submit(context.Background(), domain.SignedDocument{Document: "<NFe/>"})
	var rejected *domain.ErrAuthorityRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection, breaker should stay closed; got %v", err)
	}
}
