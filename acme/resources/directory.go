package resources

import (
	"fmt"

	"github.com/cpu/certmini/acme"
)

// Directory is the ACME server's root discovery document, mapping well-known
// operation names to absolute URLs. It is fetched once per client lifetime
// and memoized.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.1
type Directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	RevokeCert string `json:"revokeCert,omitempty"`
	KeyChange  string `json:"keyChange,omitempty"`
	Meta       Meta   `json:"meta,omitempty"`
}

// Meta is the optional directory metadata block.
type Meta struct {
	TermsOfService          string `json:"termsOfService,omitempty"`
	Website                 string `json:"website,omitempty"`
	ExternalAccountRequired bool   `json:"externalAccountRequired,omitempty"`
}

// Endpoint returns the URL for a directory entry by its well-known name. The
// bool result is false when the server did not advertise the endpoint.
func (d *Directory) Endpoint(name string) (string, bool) {
	var u string
	switch name {
	case acme.NEW_NONCE_ENDPOINT:
		u = d.NewNonce
	case acme.NEW_ACCOUNT_ENDPOINT:
		u = d.NewAccount
	case acme.NEW_ORDER_ENDPOINT:
		u = d.NewOrder
	case acme.REVOKE_CERT_ENDPOINT:
		u = d.RevokeCert
	case acme.KEY_CHANGE_ENDPOINT:
		u = d.KeyChange
	}
	return u, u != ""
}

// Check validates that the endpoints every issuance needs are present.
func (d *Directory) Check() error {
	for _, name := range []string{
		acme.NEW_NONCE_ENDPOINT,
		acme.NEW_ACCOUNT_ENDPOINT,
		acme.NEW_ORDER_ENDPOINT,
	} {
		if _, ok := d.Endpoint(name); !ok {
			return fmt.Errorf("directory is missing the %q endpoint", name)
		}
	}
	return nil
}
