package client

import (
	"fmt"
	"log"
	"net/http"

	"github.com/cpu/certmini/acme"
)

// Nonce satisfies the JWS "NonceSource" interface. The pool holds at most
// one nonce: Nonce consumes and clears the cached value when present, and
// otherwise fetches a fresh one from the ACME server's newNonce endpoint.
// Every response from an authenticated endpoint refills the cache through
// storeNonce.
//
// See https://tools.ietf.org/html/rfc8555#section-7.2
func (c *Client) Nonce() (string, error) {
	if c.nonce != "" {
		n := c.nonce
		c.nonce = ""
		return n, nil
	}
	return c.fetchNonce()
}

// fetchNonce asks the newNonce endpoint for a nonce with a HEAD request,
// falling back to GET for servers that mishandle HEAD.
func (c *Client) fetchNonce() (string, error) {
	nonceURL, err := c.endpointURL(acme.NEW_NONCE_ENDPOINT)
	if err != nil {
		return "", err
	}

	if c.Output.PrintNonceUpdates {
		log.Printf("Sending HTTP HEAD request to %q\n", nonceURL)
	}

	resp, err := c.net.HeadURL(nonceURL)
	if err != nil || resp.Header.Get(acme.REPLAY_NONCE_HEADER) == "" {
		getResp, getErr := c.net.GetURL(nonceURL)
		if getErr != nil {
			if err != nil {
				return "", err
			}
			return "", getErr
		}
		resp = getResp.Response
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%q returned HTTP status %d",
			acme.NEW_NONCE_ENDPOINT, resp.StatusCode)
	}

	nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER)
	if nonce == "" {
		return "", fmt.Errorf("%q returned no %q header value",
			acme.NEW_NONCE_ENDPOINT, acme.REPLAY_NONCE_HEADER)
	}

	if c.Output.PrintNonceUpdates {
		log.Printf("Fetched nonce %q", nonce)
	}
	return nonce, nil
}

// storeNonce replaces the cached nonce with the Replay-Nonce header of the
// given response, when one is present.
func (c *Client) storeNonce(resp *http.Response) {
	nonce := resp.Header.Get(acme.REPLAY_NONCE_HEADER)
	if nonce == "" {
		return
	}
	c.nonce = nonce
	if c.Output.PrintNonceUpdates {
		log.Printf("Updated nonce to %q", nonce)
	}
}

// clearNonce drops the cached nonce so the next signing operation fetches
// a fresh one.
func (c *Client) clearNonce() {
	c.nonce = ""
}
