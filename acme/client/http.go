package client

import (
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"strings"
	"time"

	"github.com/cpu/certmini/acme/resources"
	acmenet "github.com/cpu/certmini/net"
)

const (
	// transportAttempts bounds the attempts (first try included) per logical
	// request when it meets transient transport failures or 5xx responses.
	transportAttempts = 3
	// transportBackoff is the initial delay between transport retries. It
	// doubles per attempt.
	transportBackoff = time.Second
)

// problemFromResponse parses an RFC 7807 problem document out of an error
// response. A response that doesn't carry a problem document yields
// a generic Problem carrying the HTTP status so callers always receive
// a *resources.Problem for 4xx/5xx responses.
func problemFromResponse(resp *acmenet.NetResponse) *resources.Problem {
	prob := &resources.Problem{}
	contentType, _, _ := mime.ParseMediaType(
		resp.Response.Header.Get("Content-Type"))
	if strings.HasSuffix(contentType, "problem+json") || contentType == "application/json" {
		if err := json.Unmarshal(resp.RespBody, prob); err == nil && prob.Type != "" {
			if prob.Status == 0 {
				prob.Status = resp.Response.StatusCode
			}
			return prob
		}
	}
	return &resources.Problem{
		Type:   "about:blank",
		Detail: fmt.Sprintf("server returned HTTP status %d", resp.Response.StatusCode),
		Status: resp.Response.StatusCode,
	}
}

// postSigned signs the given payload per the SigningOptions and POSTs it to
// the given URL, surfacing 4xx/5xx responses as *resources.Problem errors.
//
// Two recoveries happen locally:
//   - a badNonce problem is retried exactly once, re-signing with the fresh
//     nonce the error response supplied
//   - transient transport errors and 5xx responses are retried with
//     exponential backoff, for at most 3 attempts in all
//
// Every response's Replay-Nonce header replaces the cached nonce before any
// error handling, so retries and subsequent requests always use the
// server's latest nonce.
func (c *Client) postSigned(url string, payload []byte, opts *SigningOptions) (*acmenet.NetResponse, error) {
	retriedNonce := false
	attempt := 0
	for {
		// Each attempt re-signs so the protected header carries an unused
		// nonce.
		signResult, err := c.Sign(url, payload, opts)
		if err != nil {
			return nil, err
		}

		if c.Output.PrintRequests {
			log.Printf("Sending POST request to URL %q\n", url)
		}
		resp, err := c.net.PostURL(url, signResult.SerializedJWS)
		if err != nil {
			attempt++
			if attempt >= transportAttempts {
				return nil, fmt.Errorf("POST %q: %w", url, err)
			}
			time.Sleep(transportBackoff << (attempt - 1))
			continue
		}

		c.storeNonce(resp.Response)

		status := resp.Response.StatusCode
		if status < 400 {
			return resp, nil
		}

		prob := problemFromResponse(resp)
		if prob.IsBadNonce() && !retriedNonce {
			retriedNonce = true
			log.Printf("Server rejected our nonce, retrying with a fresh one")
			continue
		}
		if status >= 500 {
			attempt++
			if attempt < transportAttempts {
				time.Sleep(transportBackoff << (attempt - 1))
				continue
			}
		}
		return resp, prob
	}
}

// postAsGet fetches a resource with a POST-as-GET request: a signed JWS
// whose payload is the empty string (not "{}").
//
// See https://tools.ietf.org/html/rfc8555#section-6.3
func (c *Client) postAsGet(url string) (*acmenet.NetResponse, error) {
	return c.postSigned(url, []byte{}, nil)
}
