package nfce

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

// CertificateSerialFromPFX decodes an A1 (PKCS#12) certificate and returns its
// serial number in upper-case hex. Only the identity is used; the key is not.
func CertificateSerialFromPFX(pfxData []byte, password string) (string, error) {
	_, certificate, _, err := pkcs12.DecodeChain(pfxData, password)
	if err != nil {
		return "", fmt.Errorf("decode pfx: %w", err)
	}
	if certificate == nil || certificate.SerialNumber == nil {
		return "", errors.New("decode pfx: certificate without serial number")
	}
	return strings.ToUpper(certificate.SerialNumber.Text(16)), nil
}

// LoadCertificateSerial reads a PFX file and returns its certificate serial.
func LoadCertificateSerial(path, password string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read certificate: %w", err)
	}
	return CertificateSerialFromPFX(data, password)
}
