package nfce_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/nfce"

	"software.sslmate.com/src/go-pkcs12"
)

func TestSign_AppendsDigestMarker(t *testing.T) {
	signer := nfce.NewSigner("")
	doc := "<NFe><infNFe/></NFe>"

	signed := signer.Sign(doc)

	sum := sha1.Sum([]byte(doc))
	want := doc + "\n<!-- signed:" + hex.EncodeToString(sum[:]) + " -->"
	if signed.Document != want {
		t.Errorf("unexpected signed document:\n%s", signed.Document)
	}
	if signed.CertificateSerial != nfce.DefaultCertificateSerial {
		t.Errorf("expected default serial, got %s", signed.CertificateSerial)
	}
}

func TestSign_DependsOnContentAndIdentity(t *testing.T) {
	a := nfce.NewSigner("AAA").Sign("<NFe>1</NFe>")
	b := nfce.NewSigner("AAA").Sign("<NFe>2</NFe>")
	c := nfce.NewSigner("BBB").Sign("<NFe>1</NFe>")

	if a.Document == b.Document {
		t.Error("expected different signatures for different content")
	}
	if a.Document != c.Document {
		t.Error("expected the marker to depend on content only")
	}
	if c.CertificateSerial != "BBB" {
		t.Errorf("expected serial BBB, got %s", c.CertificateSerial)
	}
}

func TestLoadCertificateSerial(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0xABC123),
		Subject:      pkix.Name{CommonName: "PDV TESTE LTDA:12345678000190"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pfx, err := pkcs12.Encode(rand.Reader, key, cert, nil, "senha")
	if err != nil {
		t.Fatalf("encode pfx: %v", err)
	}

	path := filepath.Join(t.TempDir(), "a1.pfx")
	if err := os.WriteFile(path, pfx, 0o600); err != nil {
		t.Fatalf("write pfx: %v", err)
	}

	serial, err := nfce.LoadCertificateSerial(path, "senha")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if serial != "ABC123" {
		t.Errorf("expected serial ABC123, got %s", serial)
	}

	if _, err := nfce.LoadCertificateSerial(path, "errada"); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := nfce.LoadCertificateSerial(filepath.Join(t.TempDir(), "missing.pfx"), ""); err == nil || !strings.Contains(err.Error(), "read certificate") {
		t.Errorf("expected read error, got %v", err)
	}
}
