package client

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/cpu/certmini/acme/keys"
)

// SigningOptions allows specifying signature related options when calling
// the Client's Sign function.
type SigningOptions struct {
	// If true, embed the account's public key as a JWK in the signed JWS
	// instead of using a KeyID header. This is required for NewAccount and
	// for revocation using the certificate key. Setting EmbedKey to true is
	// mutually exclusive with a non-empty KeyID.
	EmbedKey bool
	// If not-empty, a KeyID value to use for the JWS Key ID header to
	// identify the ACME account. If empty the Account's ID field will be
	// used. Providing a KeyID is mutually exclusive with setting EmbedKey
	// to true.
	KeyID string
	// A Signer to use to sign the JWS. The associated public key will be
	// computed and used for the embedded JWK if EmbedKey is true.
	Signer crypto.Signer
	// NonceSource is a jose.NonceSource implementation that provides the
	// Replay-Nonce header value for the produced JWS. Defaults to the
	// Client's nonce pool.
	NonceSource jose.NonceSource
}

// validate checks that the SigningOptions are sensible. This enforces the
// mutually exclusive KeyID and EmbedKey options and ensures that the
// NonceSource and Signer are not nil. Because it checks that the Signer
// field is not nil it must only be called after populating defaults.
func (opts *SigningOptions) validate() error {
	if opts.KeyID != "" && opts.EmbedKey {
		return fmt.Errorf("SigningOptions validate: cannot specify both KeyID and EmbedKey")
	}
	if opts.KeyID == "" && !opts.EmbedKey {
		return fmt.Errorf("SigningOptions validate: you must specify a KeyID or EmbedKey")
	}
	if opts.NonceSource == nil {
		return fmt.Errorf("SigningOptions validate: you must specify a NonceSource")
	}
	if opts.Signer == nil {
		return fmt.Errorf("SigningOptions validate: you must specify a signer")
	}
	return nil
}

// SignResult holds the input and output from a Sign operation.
type SignResult struct {
	// The url argument given to Sign.
	InputURL string
	// The data argument given to Sign.
	InputData []byte
	// The flattened JSON serialization of the produced JWS.
	SerializedJWS []byte
}

// Sign produces a SignResult by signing the provided data (with a protected
// URL header) according to the SigningOptions provided. If no Signer is
// specified in the SigningOptions then the Account's Signer is used. If the
// SigningOptions specify not to embed a JWK but do not specify a Key ID then
// the Account's ID is used as the JWS Key ID. If the SigningOptions do not
// specify an explicit NonceSource the Client's nonce pool is used.
//
// An empty data slice produces a JWS whose payload is the empty string, the
// POST-as-GET form required by RFC 8555 §6.3.
func (c *Client) Sign(url string, data []byte, opts *SigningOptions) (*SignResult, error) {
	if opts == nil {
		opts = &SigningOptions{}
	}
	if opts.Signer == nil && c.Account == nil {
		return nil, errors.New(
			"Account is nil and no Signer was specified in SigningOptions")
	} else if opts.Signer == nil {
		opts.Signer = c.Account.Signer
	}

	if !opts.EmbedKey && opts.KeyID == "" {
		if c.AccountID() == "" {
			return nil, errors.New(
				"SigningOptions EmbedKey was false, no KeyID was specified, and " +
					"the client has no registered account")
		}
		opts.KeyID = c.Account.ID
	}

	if opts.NonceSource == nil {
		opts.NonceSource = c
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	if opts.EmbedKey {
		return signEmbedded(url, data, *opts)
	}
	return signKeyID(url, data, *opts)
}

func signEmbedded(url string, data []byte, opts SigningOptions) (*SignResult, error) {
	signingKey := keys.SigningKeyForSigner(opts.Signer, "")

	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: opts.NonceSource,
		EmbedJWK:    true,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, err
	}

	return sign(signer, url, data)
}

func signKeyID(url string, data []byte, opts SigningOptions) (*SignResult, error) {
	signingKey := keys.SigningKeyForSigner(opts.Signer, opts.KeyID)

	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		NonceSource: opts.NonceSource,
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"url": url,
		},
	})
	if err != nil {
		return nil, err
	}

	return sign(signer, url, data)
}

func sign(signer jose.Signer, url string, data []byte) (*SignResult, error) {
	signed, err := signer.Sign(data)
	if err != nil {
		return nil, err
	}

	return &SignResult{
		InputURL:      url,
		InputData:     data,
		SerializedJWS: []byte(signed.FullSerialize()),
	}, nil
}

// signEABContent produces the nested external account binding JWS for
// a newAccount request: an HS256 signature by the CA-issued MAC key over the
// account's public JWK, with the MAC key id and the newAccount URL in the
// protected header.
//
// See https://tools.ietf.org/html/rfc8555#section-7.3.4
func (c *Client) signEABContent(newAccountURL string, acctSigner crypto.Signer, eab *EABCredentials) ([]byte, error) {
	if eab.KeyID == "" || eab.MACKey == "" {
		return nil, errors.New("EAB credentials require both a key ID and a MAC key")
	}
	macKey, err := base64.RawURLEncoding.DecodeString(eab.MACKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode EAB MAC key: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: macKey},
		&jose.SignerOptions{
			ExtraHeaders: map[jose.HeaderKey]interface{}{
				"kid": eab.KeyID,
				"url": newAccountURL,
			},
		})
	if err != nil {
		return nil, err
	}

	// The payload is the bare public JWK, with no alg member.
	jwk := jose.JSONWebKey{Key: acctSigner.Public()}
	jwkJSON, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("could not serialize account JWK: %w", err)
	}

	signed, err := signer.Sign(jwkJSON)
	if err != nil {
		return nil, err
	}
	return []byte(signed.FullSerialize()), nil
}
