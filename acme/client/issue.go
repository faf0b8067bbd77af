package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/cpu/certmini/acme"
	"github.com/cpu/certmini/acme/keys"
	"github.com/cpu/certmini/acme/resources"
	"github.com/cpu/certmini/solver"
)

const (
	// pollInterval is the initial delay between status polls. It doubles
	// after every poll up to pollMaxInterval.
	pollInterval    = time.Second
	pollMaxInterval = 30 * time.Second
	// pollBudget bounds each polling loop: one budget per authorization,
	// one for order finalization.
	pollBudget = 300 * time.Second
)

// Issue obtains a certificate for the given domain, driving the full ACME
// order flow:
//
//  1. create an order for the domain
//  2. fetch each of the order's authorizations; authorizations that are
//     already valid are skipped without invoking any fulfillment hook
//  3. stage a challenge response through the solver set, preferring
//     challenge types in solver registration order, and signal readiness to
//     the server
//  4. poll the authorization until it leaves pending/processing
//  5. clear the staged response, on every exit path including cancellation
//  6. finalize the order with the CSR and poll it to completion
//  7. download the certificate chain
//
// csrDER is the DER encoding of a PKCS#10 request for the domain, normally
// produced with keys.CSR. The returned bytes are the CA's PEM chain
// verbatim, leaf first.
//
// Authorizations are processed sequentially. Cancelling the context stops
// the flow at the next suspension point; cleanup hooks for a fulfilled
// challenge still run before the cancellation propagates.
func (c *Client) Issue(ctx context.Context, domain string, csrDER []byte) ([]byte, error) {
	if c.AccountID() == "" {
		return nil, fmt.Errorf("%w: issue requires a registered account", acme.ErrState)
	}
	if c.Solver == nil || len(c.Solver.Types()) == 0 {
		return nil, fmt.Errorf("%w: issue requires a configured solver", acme.ErrState)
	}
	if len(csrDER) == 0 {
		return nil, fmt.Errorf("%w: issue requires a CSR", acme.ErrCrypto)
	}

	order := &resources.Order{
		Identifiers: []resources.Identifier{
			{Type: acme.IdentifierDNS, Value: domain},
		},
	}
	if err := c.CreateOrder(order); err != nil {
		return nil, err
	}

	for _, authzURL := range order.Authorizations {
		if err := c.authorize(ctx, authzURL); err != nil {
			return nil, err
		}
	}

	csr := keys.B64CSR(base64.RawURLEncoding.EncodeToString(csrDER))
	if err := c.FinalizeOrder(order, csr); err != nil {
		return nil, err
	}

	if err := c.pollOrder(ctx, order); err != nil {
		return nil, err
	}

	log.Printf("Order %q is valid, downloading certificate\n", order.ID)
	return c.FetchCertificate(order.Certificate)
}

// authorize brings a single authorization to the valid state: it stages
// a challenge response via the solver set, signals the server, polls for
// the outcome and clears the staged response again.
func (c *Client) authorize(ctx context.Context, authzURL string) error {
	authz := &resources.Authorization{ID: authzURL}
	if err := c.UpdateAuthz(authz); err != nil {
		return err
	}

	switch authz.Status {
	case acme.StatusValid:
		// This identifier is already authorized, nothing to fulfill.
		log.Printf("Authorization %q is already valid\n", authz.ID)
		return nil
	case acme.StatusPending:
	default:
		return fmt.Errorf("%w: authorization %q has status %q",
			acme.ErrAuthorizationFailed, authz.ID, authz.Status)
	}

	domain := authz.Identifier.Value
	staged, err := c.stageChallenge(ctx, domain, authz)
	if err != nil {
		return err
	}

	// The staged response outlives any error below only until this clear
	// runs. Cleanup is shielded from cancellation so the bracket closes
	// even when the caller gave up.
	defer func() {
		if err := c.Solver.Clear(cleanupContext(ctx), domain, *staged); err != nil {
			log.Printf("Cleanup after %q authorization failed: %v\n", domain, err)
		}
	}()

	// One POST per challenge attempt: readiness is signalled exactly once.
	if err := c.RespondToChallenge(&resources.Challenge{URL: staged.URL}); err != nil {
		return fmt.Errorf("%s challenge for %q: %w", staged.Type, domain, err)
	}

	return c.pollAuthorization(ctx, authz)
}

// stageChallenge walks the solver set's challenge types in preference order
// and fulfills the first one both sides support.
func (c *Client) stageChallenge(ctx context.Context, domain string, authz *resources.Authorization) (*solver.Challenge, error) {
	for _, challType := range c.Solver.Types() {
		var chall *resources.Challenge
		for i := range authz.Challenges {
			if authz.Challenges[i].Type == challType {
				chall = &authz.Challenges[i]
				break
			}
		}
		if chall == nil {
			continue
		}

		staged := solver.Challenge{
			Type:    chall.Type,
			URL:     chall.URL,
			Token:   chall.Token,
			KeyAuth: keys.KeyAuth(c.Account.Signer, chall.Token),
		}
		res, err := c.Solver.Fulfill(ctx, domain, staged)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", acme.ErrFulfillment, err)
		}
		if res == solver.Handled {
			log.Printf("Staged %s challenge response for %q\n", chall.Type, domain)
			return &staged, nil
		}
	}
	return nil, fmt.Errorf("%w: no solver accepted a challenge for %q (offered: %v)",
		acme.ErrFulfillment, domain, challengeTypes(authz))
}

func challengeTypes(authz *resources.Authorization) []string {
	types := make([]string, len(authz.Challenges))
	for i, chall := range authz.Challenges {
		types[i] = chall.Type
	}
	return types
}

// pollAuthorization refreshes the authorization with exponential backoff
// until it leaves pending/processing. A terminal status other than valid
// fails with the challenge-level error the server recorded.
func (c *Client) pollAuthorization(ctx context.Context, authz *resources.Authorization) error {
	err := c.poll(ctx, func() (bool, error) {
		if err := c.UpdateAuthz(authz); err != nil {
			return false, err
		}
		return authz.Status != acme.StatusPending &&
			authz.Status != acme.StatusProcessing, nil
	})
	if err != nil {
		return err
	}

	if authz.Status != acme.StatusValid {
		if chall := failedChallenge(authz); chall != nil {
			return fmt.Errorf("%w: authorization for %q is %q: %s",
				acme.ErrAuthorizationFailed, authz.Identifier.Value,
				authz.Status, chall.Error.Error())
		}
		return fmt.Errorf("%w: authorization for %q is %q",
			acme.ErrAuthorizationFailed, authz.Identifier.Value, authz.Status)
	}
	return nil
}

// failedChallenge returns the challenge the server recorded an error on, if
// any.
func failedChallenge(authz *resources.Authorization) *resources.Challenge {
	for i := range authz.Challenges {
		if authz.Challenges[i].Error != nil {
			return &authz.Challenges[i]
		}
	}
	return nil
}

// pollOrder refreshes the order until it becomes valid or invalid.
func (c *Client) pollOrder(ctx context.Context, order *resources.Order) error {
	err := c.poll(ctx, func() (bool, error) {
		if err := c.UpdateOrder(order); err != nil {
			return false, err
		}
		return order.Status == acme.StatusValid ||
			order.Status == acme.StatusInvalid, nil
	})
	if err != nil {
		return err
	}

	if order.Status != acme.StatusValid {
		if order.Error != nil {
			return fmt.Errorf("%w: order %q is %q: %s",
				acme.ErrOrderFailed, order.ID, order.Status, order.Error.Error())
		}
		return fmt.Errorf("%w: order %q is %q",
			acme.ErrOrderFailed, order.ID, order.Status)
	}
	return nil
}

// poll invokes done with exponential backoff (1s initial, doubling, capped
// at 30s) until it reports completion, the 300s budget is exhausted, or the
// context is cancelled.
func (c *Client) poll(ctx context.Context, done func() (bool, error)) error {
	deadline := time.Now().Add(pollBudget)
	interval := pollInterval
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("%w: no terminal status after %s", acme.ErrTimeout, pollBudget)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
		if interval *= 2; interval > pollMaxInterval {
			interval = pollMaxInterval
		}
	}
}
