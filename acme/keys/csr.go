package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/cpu/certmini/acme"
)

// PEMCSR is the PEM encoding of an x509 Certificate Signing Request (CSR)
type PEMCSR string

// B64CSR is the Base64URLSafe encoding of an x509 Certificate Signing
// Request (CSR), the form embedded in ACME finalize requests.
type B64CSR string

// CSR produces a PKCS#10 CertificateSigningRequest for the provided domain,
// signed by the given private key. The request carries the domain as both
// the subject commonName and a subjectAltName DNS entry. RSA keys sign with
// SHA-256.
//
// CSR returns the DER encoding of the request along with its Base64URL and
// PEM forms.
func CSR(domain string, signer crypto.Signer) ([]byte, B64CSR, PEMCSR, error) {
	if domain == "" {
		return nil, "", "", fmt.Errorf("%w: no domain specified", acme.ErrCrypto)
	}

	template := x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: domain,
		},
		DNSNames: []string{domain},
	}
	if _, ok := signer.(*rsa.PrivateKey); ok {
		template.SignatureAlgorithm = x509.SHA256WithRSA
	}

	csrBytes, err := x509.CreateCertificateRequest(rand.Reader, &template, signer)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: creating CSR: %s", acme.ErrCrypto, err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type: "CERTIFICATE REQUEST", Bytes: csrBytes,
	})

	return csrBytes,
		B64CSR(base64.RawURLEncoding.EncodeToString(csrBytes)),
		PEMCSR(pemBytes),
		nil
}

// SelfSigned builds a short-lived self-signed certificate for the given
// domain. Callers use it as a transient certificate, e.g. to staple into a
// TLS listener before a real certificate has been issued.
func SelfSigned(domain string, signer crypto.Signer, validity time.Duration) ([]byte, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: no domain specified", acme.ErrCrypto)
	}
	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: generating serial: %s", acme.ErrCrypto, err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: domain,
		},
		DNSNames:              []string{domain},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(
		rand.Reader, &template, &template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("%w: creating certificate: %s", acme.ErrCrypto, err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}
