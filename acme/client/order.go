package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/cpu/certmini/acme"
	"github.com/cpu/certmini/acme/keys"
	"github.com/cpu/certmini/acme/resources"
)

// CreateOrder creates the given Order resource with the ACME server. If the
// operation is successful the Order is updated in place from the server's
// response and its ID field is populated with the value of the reply's
// Location header. Otherwise a non-nil error is returned.
//
// For more information on Order creation see "Applying for Certificate
// Issuance" in RFC 8555:
// https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) CreateOrder(order *resources.Order) error {
	if c.AccountID() == "" {
		return fmt.Errorf("%w: createOrder: no account has been created", acme.ErrState)
	}

	req := struct {
		Identifiers []resources.Identifier `json:"identifiers"`
	}{
		Identifiers: order.Identifiers,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return err
	}

	newOrderURL, err := c.endpointURL(acme.NEW_ORDER_ENDPOINT)
	if err != nil {
		return err
	}

	// Sign the new order request with the account key
	resp, err := c.postSigned(newOrderURL, reqBody, nil)
	if err != nil {
		return fmt.Errorf("createOrder: %w", err)
	}

	respOb := resp.Response
	if respOb.StatusCode != http.StatusCreated {
		return fmt.Errorf("createOrder: server returned status code %d, expected %d",
			respOb.StatusCode, http.StatusCreated)
	}

	locHeader := respOb.Header.Get(acme.LOCATION_HEADER)
	if locHeader == "" {
		return fmt.Errorf("createOrder: server returned response with no Location header")
	}

	// Unmarshal the updated order
	if err := json.Unmarshal(resp.RespBody, order); err != nil {
		return fmt.Errorf("createOrder: server returned invalid JSON: %s", err)
	}

	// Store the Location header as the Order's ID
	order.ID = locHeader
	log.Printf("Created new order with ID %q\n", order.ID)
	return nil
}

// UpdateOrder refreshes a given Order with a POST-as-GET to its ID URL. If
// this is successful the Order is mutated in place. Otherwise a non-nil
// error is returned.
//
// Calling UpdateOrder is required to refresh an Order's Status field to
// synchronize the resource with the server-side representation.
func (c *Client) UpdateOrder(order *resources.Order) error {
	if order == nil {
		return fmt.Errorf("updateOrder: order must not be nil")
	}
	if order.ID == "" {
		return fmt.Errorf("updateOrder: order must have an ID")
	}

	resp, err := c.postAsGet(order.ID)
	if err != nil {
		return err
	}

	return json.Unmarshal(resp.RespBody, order)
}

// UpdateAuthz refreshes a given Authorization with a POST-as-GET to its ID
// URL. If this is successful the Authorization is updated in place.
// Otherwise an error is returned.
func (c *Client) UpdateAuthz(authz *resources.Authorization) error {
	if authz == nil {
		return fmt.Errorf("updateAuthz: authz must not be nil")
	}
	if authz.ID == "" {
		return fmt.Errorf("updateAuthz: authz must have an ID")
	}

	resp, err := c.postAsGet(authz.ID)
	if err != nil {
		return err
	}

	return json.Unmarshal(resp.RespBody, authz)
}

// UpdateChallenge refreshes a given Challenge with a POST-as-GET to its
// URL. If this is successful the Challenge is updated in place. Otherwise
// an error is returned.
func (c *Client) UpdateChallenge(chall *resources.Challenge) error {
	if chall == nil {
		return fmt.Errorf("updateChallenge: chall must not be nil")
	}
	if chall.URL == "" {
		return fmt.Errorf("updateChallenge: chall must have a URL")
	}

	resp, err := c.postAsGet(chall.URL)
	if err != nil {
		return err
	}

	return json.Unmarshal(resp.RespBody, chall)
}

// RespondToChallenge signals the server that a challenge response is staged
// and validation may begin, by POSTing an empty JSON object to the
// challenge URL.
//
// See https://tools.ietf.org/html/rfc8555#section-7.5.1
func (c *Client) RespondToChallenge(chall *resources.Challenge) error {
	if chall == nil || chall.URL == "" {
		return fmt.Errorf("respondToChallenge: chall must have a URL")
	}
	if _, err := c.postSigned(chall.URL, []byte("{}"), nil); err != nil {
		return fmt.Errorf("respondToChallenge: %w", err)
	}
	return nil
}

// FinalizeOrder submits the base64url DER encoding of a CSR to the Order's
// finalize URL. The Order must have every authorization valid (status
// "ready") for the server to accept the request.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) FinalizeOrder(order *resources.Order, csr keys.B64CSR) error {
	if order == nil || order.Finalize == "" {
		return fmt.Errorf("finalize: order must have a finalize URL")
	}

	reqBody, err := json.Marshal(struct {
		CSR string `json:"csr"`
	}{CSR: string(csr)})
	if err != nil {
		return err
	}

	resp, err := c.postSigned(order.Finalize, reqBody, nil)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	// Refresh the order from the finalize response
	if err := json.Unmarshal(resp.RespBody, order); err != nil {
		return fmt.Errorf("finalize: server returned invalid JSON: %s", err)
	}
	log.Printf("Finalized order %q\n", order.ID)
	return nil
}

// FetchCertificate downloads the issued certificate chain from the given
// URL with a POST-as-GET. The response body is returned verbatim: a PEM
// chain with the leaf certificate first.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4.2
func (c *Client) FetchCertificate(certURL string) ([]byte, error) {
	if certURL == "" {
		return nil, fmt.Errorf("fetchCertificate: no certificate URL")
	}

	resp, err := c.postAsGet(certURL)
	if err != nil {
		return nil, err
	}
	return resp.RespBody, nil
}
