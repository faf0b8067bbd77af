// Package client provides a low-level ACME v2 client and the issuance
// engine built on top of it.
package client

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"strings"

	"github.com/cpu/certmini/acme/resources"
	acmenet "github.com/cpu/certmini/net"
	"github.com/cpu/certmini/solver"
)

// Client drives one logical session against an ACME server. A Client owns
// its HTTP transport for the duration of the session, holds the Account used
// to authenticate requests with JSON Web Signatures (JWS), and dispatches
// challenge fulfillment through the configured solver set.
//
// A Client is not safe for concurrent use. Callers wanting parallel
// issuances run independent Client instances.
type Client struct {
	// A parsed *url.URL pointer for the ACME server's directory URL. Fixed
	// for the client's lifetime.
	DirectoryURL *url.URL
	// The Account used for authenticating ACME requests. Populated by
	// CreateAccount or restored from a saved state file.
	Account *resources.Account
	// The fulfillment dispatcher consulted when an authorization requires
	// a challenge response. Its registration order is the challenge type
	// preference order.
	Solver *solver.Set
	// Options controlling the Client's log output.
	Output OutputOptions
	// the net object is used to make HTTP GET/POST/HEAD requests to the
	// ACME server.
	net *acmenet.ACMENet
	// EAB credentials for directories that require external account
	// binding, nil otherwise.
	eab *EABCredentials
	// directory is the memoized ACME server directory, fetched lazily on
	// first use.
	directory *resources.Directory
	// nonce is the single cached replay nonce. Empty at start; refilled
	// from every response's Replay-Nonce header and consumed per request.
	nonce string
}

// OutputOptions holds runtime output settings for a client.
type OutputOptions struct {
	// Print all HTTP requests made to the ACME server.
	PrintRequests bool
	// Print nonce cache updates.
	PrintNonceUpdates bool
}

// EABCredentials are the CA-issued external account binding credentials
// presented during account creation where the directory requires them.
type EABCredentials struct {
	// KeyID identifies the MAC key, as issued by the CA.
	KeyID string
	// MACKey is the base64url (unpadded) encoded HMAC key.
	MACKey string
}

// ClientConfig contains configuration options provided to NewClient when
// creating a Client instance.
type ClientConfig struct {
	// A fully qualified URL for the ACME server's directory resource. Must
	// include an HTTP/HTTPS protocol prefix. Mandatory.
	DirectoryURL string
	// An optional file path to one or more PEM encoded CA certificates to
	// be used as trust roots for HTTPS requests to the ACME server. If
	// empty the system roots are used.
	CACert string
	// An optional email address used as the "mailto:" contact when an
	// account is created. Only one address is supported.
	ContactEmail string
	// An optional file path to a previously saved client state. When
	// present the account (and key) serialized there are restored instead
	// of creating anything new. The state's directory URL must match
	// DirectoryURL: an account key is never reused across directories.
	StatePath string
	// If AutoRegister is true NewClient will create a new account with the
	// ACME server when StatePath yielded none, and will persist the result
	// back to StatePath when one is configured.
	AutoRegister bool
	// Optional external account binding credentials. Mandatory when the
	// directory's meta block sets externalAccountRequired.
	EAB *EABCredentials
	// The challenge fulfillment dispatcher used by Issue.
	Solver *solver.Set
	// Initial OutputOptions settings
	InitialOutput OutputOptions
}

// normalize validates a ClientConfig.
func (conf *ClientConfig) normalize() error {
	conf.DirectoryURL = strings.TrimSpace(conf.DirectoryURL)
	conf.ContactEmail = strings.TrimSpace(conf.ContactEmail)
	conf.StatePath = strings.TrimSpace(conf.StatePath)

	if conf.DirectoryURL == "" {
		return fmt.Errorf("DirectoryURL must not be empty")
	}

	if _, err := url.Parse(conf.DirectoryURL); err != nil {
		return fmt.Errorf("DirectoryURL invalid: %s", err.Error())
	}

	if conf.ContactEmail != "" {
		addr, err := mail.ParseAddress(conf.ContactEmail)
		if err != nil {
			return fmt.Errorf("ContactEmail is invalid: %s", err.Error())
		}
		conf.ContactEmail = addr.Address
	}

	return nil
}

// NewClient creates a Client instance from the given ClientConfig. If the
// config is not valid or if another error occurs it will be returned along
// with a nil Client.
//
// NewClient acquires the session's HTTP transport; callers release it with
// Close on every exit path.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}

	net, err := acmenet.New(acmenet.Config{
		CABundlePath: config.CACert,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create ACME net client: %w", err)
	}

	// NOTE: its safe to throw away the returned err here because we check
	// that `url.Parse` will succeed in `config.normalize()` above.
	dirURL, _ := url.Parse(config.DirectoryURL)

	client := &Client{
		DirectoryURL: dirURL,
		Solver:       config.Solver,
		Output:       config.InitialOutput,
		eab:          config.EAB,
		net:          net,
	}

	// If requested, try to restore saved state from disk
	if config.StatePath != "" {
		acct, err := resources.RestoreAccount(config.StatePath)

		// if there was an error loading the state and auto-register is not
		// specified then return an error. We have no account to use.
		if err != nil && !config.AutoRegister {
			return nil, fmt.Errorf("error restoring state from %q : %s",
				config.StatePath, err)
		} else if err != nil && config.AutoRegister {
			log.Printf("No state restored from %q\n", config.StatePath)
		}

		if err == nil {
			if acct.DirectoryURL != "" && acct.DirectoryURL != config.DirectoryURL {
				return nil, fmt.Errorf(
					"state from %q is bound to directory %q, not %q: "+
						"account keys are never reused across directories",
					config.StatePath, acct.DirectoryURL, config.DirectoryURL)
			}
			client.Account = acct
			if acct.ID != "" {
				log.Printf("Restored account %q\n", acct.ID)
			} else {
				log.Printf("Restored account key without a registered account\n")
			}
		}
	}

	// If there is no registered account and auto-register is enabled then
	// create one.
	if config.AutoRegister && client.AccountID() == "" {
		acct := client.Account
		if acct == nil {
			acct, err = resources.NewAccount([]string{config.ContactEmail}, nil)
			if err != nil {
				return nil, err
			}
		}
		if err := client.CreateAccount(acct); err != nil {
			return nil, err
		}
		log.Printf("Registered account with ID %q\n", acct.ID)

		if config.StatePath != "" {
			if err := resources.SaveAccount(config.StatePath, acct); err != nil {
				return nil, fmt.Errorf("error saving state to %q : %s",
					config.StatePath, err)
			}
			log.Printf("Saved client state to %q", config.StatePath)
		}
	}

	return client, nil
}

// Close releases the client's HTTP transport. The Client must not be used
// afterwards.
func (c *Client) Close() {
	c.net.Close()
}

// AccountID returns the URL ("kid") of the client's account. If no account
// has been created with the ACME server an empty string is returned.
func (c *Client) AccountID() string {
	if c.Account == nil {
		return ""
	}

	return c.Account.ID
}

// SaveState persists the client's account and key to the given path in the
// canonical state format.
func (c *Client) SaveState(path string) error {
	if c.Account == nil {
		return fmt.Errorf("client has no account to save")
	}
	return resources.SaveAccount(path, c.Account)
}

// cleanupContext shields challenge cleanup from the caller's cancellation:
// a fulfilled challenge is always cleared, even when the surrounding Issue
// is being cancelled.
func cleanupContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
