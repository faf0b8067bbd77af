package resources

import (
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/cpu/certmini/acme/keys"
)

// Account holds information related to a single ACME Account resource. If
// the account has an empty ID it has not yet been created server-side with
// the client.CreateAccount function.
//
// The ID field holds the server assigned Account URL that is assigned at the
// time of account creation and used as the JWS KeyID for authenticating
// subsequent ACME requests with the Account's registered keypair.
//
// The DirectoryURL records the directory the account key is bound to. A key
// is never reused against another directory without running newAccount
// again.
type Account struct {
	// The server assigned Account URL. This is used for the JWS KeyID when
	// authenticating ACME requests using the Account's registered keypair.
	ID string `json:"-"`
	// The directory URL the account was (or will be) registered with.
	DirectoryURL string `json:"-"`
	// If not nil, a slice of one or more email addresses to be used as the
	// ACME Account's "mailto:" Contact addresses.
	Contact []string `json:"-"`
	// A signer used to sign protocol messages and to derive the ACME
	// account's public key. Immutable after construction except through a
	// key rollover.
	Signer crypto.Signer `json:"-"`
	// Fields from a restored state file this version doesn't know about.
	// They are carried so saving the account again round-trips them.
	extra map[string]json.RawMessage
	// The JSON path backing the account (if any)
	jsonPath string
}

// String returns the Account's ID or an empty string if it has not been
// created with the ACME server.
func (a Account) String() string {
	return a.ID
}

func (a Account) Path() string {
	return a.jsonPath
}

// NewAccount creates an ACME account in-memory. *Important:* the created
// Account is *not* registered with the ACME server until it is explicitly
// created server-side using a Client instance's CreateAccount function.
//
// The emails argument is a slice of zero or more email addresses that should
// be used as the Account's Contact information.
//
// The signer argument is the private key to use for the Account keypair. If
// nil a fresh RSA account key is generated.
func NewAccount(emails []string, signer crypto.Signer) (*Account, error) {
	var contacts []string
	for _, e := range emails {
		if e == "" {
			continue
		}
		contacts = append(contacts, fmt.Sprintf("mailto:%s", e))
	}

	if signer == nil {
		randKey, err := keys.NewAccountKey()
		if err != nil {
			return nil, err
		}
		signer = randKey
	}

	return &Account{
		Contact: contacts,
		Signer:  signer,
	}, nil
}

// SaveAccount persists the given Account object (which must not be nil) to
// the given file path. If any errors occur serializing the account it will
// be returned.
func SaveAccount(path string, account *Account) error {
	if account == nil {
		return errors.New("account must not be nil")
	}
	frozenBytes, err := account.save()
	if err != nil {
		return err
	}
	account.jsonPath = path
	// write the serialized data to the provided filepath using a mode that
	// only allows access to the current user. This file contains a private
	// key!
	return os.WriteFile(path, frozenBytes, 0600)
}

// save produces the canonical state document:
//
//	{
//	  "directory": "<absolute URL>",
//	  "key": { "n": ..., "e": "AQAB", "d": ..., ... },
//	  "account_url": "<absolute URL>"
//	}
//
// The key field is the full private RSA JWK with base64url (unpadded)
// big-endian integers. account_url is omitted while the account has not been
// created server-side. Unknown fields restored from an earlier state file
// are written back unchanged.
func (a *Account) save() ([]byte, error) {
	if a.Signer == nil {
		return nil, errors.New("account has no private key")
	}
	jwk := jose.JSONWebKey{Key: a.Signer}
	keyJSON, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("error serializing account key: %w", err)
	}

	doc := map[string]json.RawMessage{}
	for k, v := range a.extra {
		doc[k] = v
	}
	doc["directory"], err = json.Marshal(a.DirectoryURL)
	if err != nil {
		return nil, err
	}
	doc["key"] = keyJSON
	if a.ID != "" {
		doc["account_url"], err = json.Marshal(a.ID)
		if err != nil {
			return nil, err
		}
	}

	return json.MarshalIndent(doc, "", "  ")
}

// RestoreAccount loads a previously saved Account object from the given file
// path. This file should have been created using SaveAccount in a previous
// session. If any errors occur deserializing an Account from the data in the
// provided filepath a nil Account instance and a non-nil error will be
// returned.
func RestoreAccount(path string) (*Account, error) {
	acct := &Account{}
	frozenBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := acct.restore(frozenBytes); err != nil {
		return nil, err
	}
	acct.jsonPath = path
	return acct, nil
}

func (a *Account) restore(frozenAcct []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(frozenAcct, &doc); err != nil {
		return err
	}

	keyJSON, ok := doc["key"]
	if !ok {
		return errors.New("account state has no \"key\" field")
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(keyJSON); err != nil {
		return fmt.Errorf("error parsing account key: %w", err)
	}
	rsaKey, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("account state key is a %T, expected an RSA private key", jwk.Key)
	}

	if raw, ok := doc["directory"]; ok {
		if err := json.Unmarshal(raw, &a.DirectoryURL); err != nil {
			return err
		}
	}
	// absence of account_url means the key has not been registered yet
	if raw, ok := doc["account_url"]; ok {
		if err := json.Unmarshal(raw, &a.ID); err != nil {
			return err
		}
	}

	delete(doc, "directory")
	delete(doc, "key")
	delete(doc, "account_url")
	if len(doc) > 0 {
		a.extra = doc
	}

	a.Signer = rsaKey
	return nil
}
