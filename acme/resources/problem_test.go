package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProblemKinds(t *testing.T) {
	prob := &Problem{
		Type:   "urn:ietf:params:acme:error:badNonce",
		Detail: "JWS has an invalid anti-replay nonce",
		Status: 400,
	}

	assert.True(t, prob.IsBadNonce())
	assert.False(t, prob.IsRateLimited())
	assert.Equal(t, "badNonce", prob.ErrorType())
	assert.Contains(t, prob.Error(), "badNonce")
	assert.Contains(t, prob.Error(), "anti-replay")
}

func TestProblemNonACMEType(t *testing.T) {
	prob := &Problem{Type: "about:blank", Status: 500}

	assert.False(t, prob.IsBadNonce())
	assert.Equal(t, "about:blank", prob.ErrorType())
}
