package keys

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSR(t *testing.T) {
	key, err := NewDomainKey(2048)
	require.NoError(t, err)

	der, b64, pemCSR, err := CSR("example.com", key)
	require.NoError(t, err)
	assert.NotEmpty(t, b64)

	block, _ := pem.Decode([]byte(pemCSR))
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE REQUEST", block.Type)
	assert.Equal(t, der, block.Bytes)

	req, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	require.NoError(t, req.CheckSignature())

	assert.Equal(t, "example.com", req.Subject.CommonName)
	assert.Equal(t, []string{"example.com"}, req.DNSNames)
	assert.Equal(t, x509.SHA256WithRSA, req.SignatureAlgorithm)
}

func TestCSRNoDomain(t *testing.T) {
	key, err := NewDomainKey(2048)
	require.NoError(t, err)

	_, _, _, err = CSR("", key)
	assert.Error(t, err)
}

func TestSelfSigned(t *testing.T) {
	key, err := NewDomainKey(2048)
	require.NoError(t, err)

	certPEM, err := SelfSigned("test.local", key, time.Hour)
	require.NoError(t, err)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	require.Equal(t, "CERTIFICATE", block.Type)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "test.local", cert.Subject.CommonName)
	assert.NoError(t, cert.VerifyHostname("test.local"))
	assert.WithinDuration(t, time.Now().Add(time.Hour), cert.NotAfter, time.Minute)
}
