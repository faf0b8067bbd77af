package client

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/cpu/certmini/acme"
	"github.com/cpu/certmini/acme/keys"
	"github.com/cpu/certmini/acme/resources"
)

// CreateAccount creates the given Account resource with the ACME server.
// The Account is updated with the URL returned in the server's response's
// Location header if the operation is successful, otherwise an error is
// returned. A nil acct registers the Client's current Account.
//
// When the directory's meta block requires external account binding, or EAB
// credentials were configured, the request carries an externalAccountBinding
// field: a nested JWS over the account's public JWK signed HS256 with the
// CA-issued MAC key.
//
// A server that already has an account for the key answers HTTP 200 instead
// of 201; this is not an error and the account URL is captured all the
// same.
//
// Important: This function always unconditionally agrees to the server's
// terms of service (e.g. it sends "termsOfServiceAgreed":true in all
// account creation requests).
//
// For more information on account creation see
// https://tools.ietf.org/html/rfc8555#section-7.3
func (c *Client) CreateAccount(acct *resources.Account) error {
	if acct == nil {
		acct = c.Account
	}
	if acct == nil {
		return fmt.Errorf("%w: no account to create", acme.ErrState)
	}
	if acct.ID != "" {
		return fmt.Errorf("create: account already exists under ID %q", acct.ID)
	}

	newAcctURL, err := c.endpointURL(acme.NEW_ACCOUNT_ENDPOINT)
	if err != nil {
		return err
	}
	dir, err := c.Directory()
	if err != nil {
		return err
	}

	newAcctReq := struct {
		Contact   []string        `json:"contact,omitempty"`
		ToSAgreed bool            `json:"termsOfServiceAgreed"`
		EAB       json.RawMessage `json:"externalAccountBinding,omitempty"`
	}{
		Contact:   acct.Contact,
		ToSAgreed: true,
	}

	if dir.Meta.ExternalAccountRequired && c.eab == nil {
		return fmt.Errorf(
			"create: directory %q requires external account binding credentials",
			c.DirectoryURL)
	}
	if c.eab != nil {
		eabJWS, err := c.signEABContent(newAcctURL, acct.Signer, c.eab)
		if err != nil {
			return fmt.Errorf("create: signing external account binding: %w", err)
		}
		newAcctReq.EAB = eabJWS
	}

	reqBody, err := json.Marshal(&newAcctReq)
	if err != nil {
		return err
	}

	log.Printf("Sending %q request (contact: %s) to %q",
		acme.NEW_ACCOUNT_ENDPOINT, acct.Contact, newAcctURL)
	resp, err := c.postSigned(newAcctURL, reqBody, &SigningOptions{
		EmbedKey: true,
		Signer:   acct.Signer,
	})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusCreated && respOb.StatusCode != http.StatusOK {
		return fmt.Errorf("create: server returned status code %d, expected %d",
			respOb.StatusCode, http.StatusCreated)
	}

	locHeader := respOb.Header.Get(acme.LOCATION_HEADER)
	if locHeader == "" {
		return fmt.Errorf("create: server returned response with no Location header")
	}
	if respOb.StatusCode == http.StatusOK {
		log.Printf("Account key was already registered, reusing account %q\n", locHeader)
	}

	// Store the Location header as the Account's ID and bind the key to
	// this directory.
	acct.ID = locHeader
	acct.DirectoryURL = c.DirectoryURL.String()
	c.Account = acct
	return nil
}

// DeactivateAccount permanently deactivates the client's account with the
// ACME server. The server rejects all further requests authenticated by the
// account's key.
//
// See https://tools.ietf.org/html/rfc8555#section-7.3.6
func (c *Client) DeactivateAccount() error {
	if c.AccountID() == "" {
		return fmt.Errorf("%w: no account has been created", acme.ErrState)
	}

	reqBody, err := json.Marshal(struct {
		Status string `json:"status"`
	}{Status: acme.StatusDeactivated})
	if err != nil {
		return err
	}

	if _, err := c.postSigned(c.Account.ID, reqBody, nil); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	log.Printf("Deactivated account %q\n", c.Account.ID)
	return nil
}

// Rollover switches the account to a new private key using the directory's
// keyChange endpoint: an inner JWS signed by the new key (JWK embedded, no
// nonce), wrapped in an outer JWS signed by the current account key.
//
// See https://tools.ietf.org/html/rfc8555#section-7.3.5
func (c *Client) Rollover(newKey crypto.Signer) error {
	if c.AccountID() == "" {
		return fmt.Errorf("%w: no account has been created", acme.ErrState)
	}

	keyChangeURL, err := c.endpointURL(acme.KEY_CHANGE_ENDPOINT)
	if err != nil {
		return err
	}

	rolloverReq := struct {
		Account string          `json:"account"`
		OldKey  jose.JSONWebKey `json:"oldKey"`
	}{
		Account: c.Account.ID,
		OldKey:  jose.JSONWebKey{Key: c.Account.Signer.Public()},
	}
	reqBody, err := json.Marshal(&rolloverReq)
	if err != nil {
		return fmt.Errorf("failed to marshal rollover request to JSON: %w", err)
	}

	// The inner JWS embeds the new key and carries no nonce.
	innerSigner, err := jose.NewSigner(
		keys.SigningKeyForSigner(newKey, ""),
		&jose.SignerOptions{
			EmbedJWK: true,
			ExtraHeaders: map[jose.HeaderKey]interface{}{
				"url": keyChangeURL,
			},
		})
	if err != nil {
		return fmt.Errorf("error creating inner JWS signer: %w", err)
	}
	inner, err := innerSigner.Sign(reqBody)
	if err != nil {
		return fmt.Errorf("error signing inner JWS: %w", err)
	}

	if _, err := c.postSigned(keyChangeURL, []byte(inner.FullSerialize()), nil); err != nil {
		return fmt.Errorf("rollover: %w", err)
	}

	c.Account.Signer = newKey
	log.Printf("Rolled over account %q to its new key\n", c.Account.ID)
	return nil
}

// Revoke revokes the given PEM encoded certificate with the ACME server,
// authenticating the request with the account key ("kid" form). The reason
// is one of the RFC 5280 CRLReason codes; 0 ("unspecified") is always
// acceptable.
//
// See https://tools.ietf.org/html/rfc8555#section-7.6
func (c *Client) Revoke(certPEM []byte, reason int) error {
	if c.AccountID() == "" {
		return fmt.Errorf("%w: no account has been created", acme.ErrState)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("%w: no CERTIFICATE PEM block found", acme.ErrCrypto)
	}

	revokeURL, err := c.endpointURL(acme.REVOKE_CERT_ENDPOINT)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(struct {
		Certificate string `json:"certificate"`
		Reason      int    `json:"reason"`
	}{
		Certificate: base64.RawURLEncoding.EncodeToString(block.Bytes),
		Reason:      reason,
	})
	if err != nil {
		return err
	}

	if _, err := c.postSigned(revokeURL, reqBody, nil); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	log.Printf("Revoked certificate (reason %d)\n", reason)
	return nil
}
