// Package keys offers utility functions for working with crypto.Signers,
// JWS, JWKs, key authorizations and PEM serialization.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/cpu/certmini/acme"
)

const (
	// accountKeyBits is the RSA modulus size used for ACME account keys.
	accountKeyBits = 2048
	// domainKeyBits is the default RSA modulus size for certificate keys.
	domainKeyBits = 4096

	rsaPEMHeader = "RSA PRIVATE KEY"
	ecPEMHeader  = "EC PRIVATE KEY"
)

// NewAccountKey generates an RSA keypair sized for use as an ACME account
// key.
func NewAccountKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, accountKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: generating account key: %s", acme.ErrCrypto, err)
	}
	return key, nil
}

// NewDomainKey generates an RSA keypair for certificate private keys. A bits
// value of zero selects the 4096 bit default. Certificate keys SHOULD NOT be
// the account keypair, see https://tools.ietf.org/html/rfc8555#section-11.1
func NewDomainKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = domainKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generating domain key: %s", acme.ErrCrypto, err)
	}
	return key, nil
}

func sigAlgForKey(signer crypto.Signer) jose.SignatureAlgorithm {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return jose.ES256
	case *rsa.PrivateKey:
		return jose.RS256
	}
	return "unknown"
}

func algForKey(signer crypto.Signer) string {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return "ECDSA"
	case *rsa.PrivateKey:
		return "RSA"
	}
	return "unknown"
}

// JWKForSigner returns the public JWK for the given signer's keypair.
func JWKForSigner(signer crypto.Signer) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       signer.Public(),
		Algorithm: algForKey(signer),
	}
}

// JWKJSON returns the JSON serialization of the public JWK for the given
// signer, or an empty string on marshal failure.
func JWKJSON(signer crypto.Signer) string {
	jwk := JWKForSigner(signer)
	jwkJSON, err := json.Marshal(&jwk)
	if err != nil {
		return ""
	}
	return string(jwkJSON)
}

// JWKThumbprintBytes computes the RFC 7638 SHA-256 thumbprint of the
// signer's public key: the hash of the canonical JSON of the JWK with its
// required fields in lexicographic order and no whitespace.
func JWKThumbprintBytes(signer crypto.Signer) []byte {
	jwk := JWKForSigner(signer)
	thumbBytes, _ := jwk.Thumbprint(crypto.SHA256)
	return thumbBytes
}

// JWKThumbprint returns the base64url (unpadded) encoding of the signer's
// JWK thumbprint. For a SHA-256 thumbprint this is always 43 characters.
func JWKThumbprint(signer crypto.Signer) string {
	return base64.RawURLEncoding.EncodeToString(JWKThumbprintBytes(signer))
}

// KeyAuth derives the key authorization for a challenge token:
// token || '.' || base64url(thumbprint(account key)). This is the exact
// content served for http-01 challenges.
//
// See https://tools.ietf.org/html/rfc8555#section-8.1
func KeyAuth(signer crypto.Signer, token string) string {
	return fmt.Sprintf("%s.%s", token, JWKThumbprint(signer))
}

// DNSKeyAuth derives the TXT record value for a dns-01 challenge from a key
// authorization: base64url(SHA256(keyAuth)).
//
// See https://tools.ietf.org/html/rfc8555#section-8.4
func DNSKeyAuth(keyAuth string) string {
	digest := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// SigningKeyForSigner wraps a signer as a jose.SigningKey carrying the given
// JWS key ID. An empty keyID produces a signing key suitable for JWK
// embedded signatures.
func SigningKeyForSigner(signer crypto.Signer, keyID string) jose.SigningKey {
	jwk := jose.JSONWebKey{
		Key:       signer,
		Algorithm: string(sigAlgForKey(signer)),
		KeyID:     keyID,
	}
	return jose.SigningKey{
		Key:       jwk,
		Algorithm: sigAlgForKey(signer),
	}
}

// SignerToPEM serializes a private key to PEM. RSA keys are emitted as
// PKCS#1 "RSA PRIVATE KEY" blocks, ECDSA keys as SEC 1 "EC PRIVATE KEY"
// blocks.
func SignerToPEM(signer crypto.Signer) (string, error) {
	var keyBytes []byte
	var keyHeader string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err = x509.MarshalECPrivateKey(k)
		keyHeader = ecPEMHeader
	case *rsa.PrivateKey:
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
		keyHeader = rsaPEMHeader
	default:
		err = fmt.Errorf("unknown key type: %T", k)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s", acme.ErrCrypto, err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  keyHeader,
		Bytes: keyBytes,
	})
	return string(pemBytes), nil
}

// SignerFromPEM parses a private key from the first PEM block of the given
// bytes. The inverse of SignerToPEM.
func SignerFromPEM(pemBytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", acme.ErrCrypto)
	}
	var privKey crypto.Signer
	var err error
	switch block.Type {
	case rsaPEMHeader:
		privKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case ecPEMHeader:
		privKey, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		err = fmt.Errorf("unknown PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", acme.ErrCrypto, err)
	}
	return privKey, nil
}
