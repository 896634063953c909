package nfce

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
)

// DefaultCertificateSerial identifies the demo A1 certificate.
const DefaultCertificateSerial = "DEMO123456"

// Signer simulates the XML signature with an A1 certificate: the content
// digest is appended as a marker. Swapping in XMLDSig keeps this contract.
type Signer struct {
	serial string
}

// NewSigner creates a signer bound to a certificate serial.
func NewSigner(certificateSerial string) *Signer {
	if certificateSerial == "" {
		certificateSerial = DefaultCertificateSerial
	}
	return &Signer{serial: certificateSerial}
}

// CertificateSerial returns the identity used to sign.
func (s *Signer) CertificateSerial() string {
	return s.serial
}

// Sign returns a new signed artifact; document is not modified.
func (s *Signer) Sign(document string) domain.SignedDocument {
	sum := sha1.Sum([]byte(document))
	return domain.SignedDocument{
		Document:          fmt.Sprintf("%s\n<!-- signed:%s -->", document, hex.EncodeToString(sum[:])),
		CertificateSerial: s.serial,
	}
}
