package client

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/certmini/acme"
	"github.com/cpu/certmini/acme/keys"
	"github.com/cpu/certmini/solver"
)

func testCSR(t *testing.T, domain string) []byte {
	key, err := keys.NewDomainKey(2048)
	require.NoError(t, err)
	der, _, _, err := keys.CSR(domain, key)
	require.NoError(t, err)
	return der
}

// recordingSolver counts hook invocations for a single challenge type.
type recordingSolver struct {
	challType string
	fulfills  int
	clears    int
	result    solver.Result
}

func (r *recordingSolver) Register(s *solver.Set) *solver.Set {
	return s.Register(r.challType, solver.Hooks{
		Fulfill: func(_ context.Context, _ string, _ solver.Challenge) (solver.Result, error) {
			r.fulfills++
			return r.result, nil
		},
		Clear: func(_ context.Context, _ string, _ solver.Challenge) error {
			r.clears++
			return nil
		},
	})
}

func TestIssue(t *testing.T) {
	const domain = "test.local"
	challDir := t.TempDir()

	ca := newMockCA(t, domain)
	ca.challRoot = challDir

	set := (&solver.HTTPDir{Root: challDir}).Register(solver.NewSet())
	c := newTestClient(t, ca, ClientConfig{Solver: set})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	chainPEM, err := c.Issue(context.Background(), domain, testCSR(t, domain))
	require.NoError(t, err)

	// The response body is returned verbatim: a PEM chain, leaf first.
	block, _ := pem.Decode(chainPEM)
	require.NotNil(t, block, "issued chain has no PEM block")
	require.Equal(t, "CERTIFICATE", block.Type)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.NoError(t, cert.VerifyHostname(domain))

	// While validation ran, the challenge file held the key authorization.
	assert.Equal(t, keys.KeyAuth(c.Account.Signer, mockToken), ca.challContent)

	// The readiness POST is sent exactly once per challenge attempt.
	assert.Equal(t, 1, ca.challCount)
	assert.True(t, ca.finalized)

	// Cleanup removed the staged response.
	_, statErr := os.Stat(filepath.Join(challDir, mockToken))
	assert.True(t, os.IsNotExist(statErr), "challenge file was not cleaned up")
}

// POST-as-GET requests carry the empty string as their payload, not "{}".
func TestIssuePostAsGetPayloads(t *testing.T) {
	const domain = "test.local"
	challDir := t.TempDir()

	ca := newMockCA(t, domain)
	set := (&solver.HTTPDir{Root: challDir}).Register(solver.NewSet())
	c := newTestClient(t, ca, ClientConfig{Solver: set})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	_, err := c.Issue(context.Background(), domain, testCSR(t, domain))
	require.NoError(t, err)

	for _, path := range []string{"/authz/1", "/order/1", "/cert/1"} {
		require.NotEmpty(t, ca.payloads[path], "no requests recorded for %s", path)
		for _, payload := range ca.payloads[path] {
			assert.Equal(t, "", payload, "POST-as-GET to %s had a non-empty payload", path)
		}
	}

	// The challenge readiness POST carries the empty JSON object instead.
	require.Len(t, ca.payloads["/chall/1"], 1)
	assert.Equal(t, "{}", ca.payloads["/chall/1"][0])
}

// No two signed requests in one session may reuse a nonce.
func TestIssueNonceFreshness(t *testing.T) {
	const domain = "test.local"

	ca := newMockCA(t, domain)
	set := (&solver.HTTPDir{Root: t.TempDir()}).Register(solver.NewSet())
	c := newTestClient(t, ca, ClientConfig{Solver: set})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	_, err := c.Issue(context.Background(), domain, testCSR(t, domain))
	require.NoError(t, err)

	seen := map[string]int{}
	for _, nonce := range ca.seenNonces {
		seen[nonce]++
		assert.Equal(t, 1, seen[nonce], "nonce %q was used twice", nonce)
	}
}

// An authorization that is already valid must not invoke any fulfillment
// hook.
func TestIssueSkipsValidAuthorization(t *testing.T) {
	const domain = "test.local"

	ca := newMockCA(t, domain)
	ca.authzPrevalidated = true

	rec := &recordingSolver{challType: acme.ChallengeHTTP01, result: solver.Handled}
	c := newTestClient(t, ca, ClientConfig{Solver: rec.Register(solver.NewSet())})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	_, err := c.Issue(context.Background(), domain, testCSR(t, domain))
	require.NoError(t, err)

	assert.Zero(t, rec.fulfills, "fulfillment hook ran for a valid authorization")
	assert.Zero(t, ca.challCount, "challenge was responded to for a valid authorization")
}

// Cleanup runs even when the authorization fails, and the CA's error object
// is carried in the returned error.
func TestIssueAuthorizationFailure(t *testing.T) {
	const domain = "test.local"

	ca := newMockCA(t, domain)
	ca.failAuthz = true

	rec := &recordingSolver{challType: acme.ChallengeHTTP01, result: solver.Handled}
	c := newTestClient(t, ca, ClientConfig{Solver: rec.Register(solver.NewSet())})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	_, err := c.Issue(context.Background(), domain, testCSR(t, domain))
	require.ErrorIs(t, err, acme.ErrAuthorizationFailed)
	assert.Contains(t, err.Error(), "key authorization file was not found")

	assert.Equal(t, 1, rec.fulfills)
	assert.Equal(t, 1, rec.clears, "cleanup did not run on the failure path")
}

// When no registered hook accepts a challenge the issuance fails without
// a readiness POST.
func TestIssueFulfillmentFailure(t *testing.T) {
	const domain = "test.local"

	ca := newMockCA(t, domain)
	rec := &recordingSolver{challType: acme.ChallengeHTTP01, result: solver.NotHandled}
	c := newTestClient(t, ca, ClientConfig{Solver: rec.Register(solver.NewSet())})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	_, err := c.Issue(context.Background(), domain, testCSR(t, domain))
	require.ErrorIs(t, err, acme.ErrFulfillment)
	assert.Zero(t, ca.challCount)
	assert.Zero(t, rec.clears, "nothing was staged, nothing to clear")
}

// Challenge types are picked in solver registration order, not server
// order. The mock CA lists dns-01 ahead of http-01; a solver registering
// http-01 first must still pick http-01.
func TestIssueChallengePreferenceOrder(t *testing.T) {
	const domain = "test.local"

	ca := newMockCA(t, domain)
	httpRec := &recordingSolver{challType: acme.ChallengeHTTP01, result: solver.Handled}
	dnsRec := &recordingSolver{challType: acme.ChallengeDNS01, result: solver.Handled}

	set := solver.NewSet()
	httpRec.Register(set)
	dnsRec.Register(set)

	c := newTestClient(t, ca, ClientConfig{Solver: set})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	_, err := c.Issue(context.Background(), domain, testCSR(t, domain))
	require.NoError(t, err)

	assert.Equal(t, 1, httpRec.fulfills)
	assert.Zero(t, dnsRec.fulfills)
}

func TestIssueRequiresAccount(t *testing.T) {
	ca := newMockCA(t, "test.local")
	set := (&solver.HTTPDir{Root: t.TempDir()}).Register(solver.NewSet())
	c := newTestClient(t, ca, ClientConfig{Solver: set})

	_, err := c.Issue(context.Background(), "test.local", testCSR(t, "test.local"))
	assert.ErrorIs(t, err, acme.ErrState)
}

func TestIssueRequiresSolver(t *testing.T) {
	ca := newMockCA(t, "test.local")
	c := newTestClient(t, ca, ClientConfig{})
	require.NoError(t, c.CreateAccount(newTestAccount(t)))

	_, err := c.Issue(context.Background(), "test.local", testCSR(t, "test.local"))
	assert.ErrorIs(t, err, acme.ErrState)
}
