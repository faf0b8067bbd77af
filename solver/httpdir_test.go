package solver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/certmini/acme"
)

func TestHTTPDirFulfillAndClear(t *testing.T) {
	root := t.TempDir()
	s := (&HTTPDir{Root: root}).Register(NewSet())

	chal := Challenge{
		Type:    acme.ChallengeHTTP01,
		Token:   "token-123",
		KeyAuth: "token-123.thumbprint",
	}

	res, err := s.Fulfill(context.Background(), "example.com", chal)
	require.NoError(t, err)
	require.Equal(t, Handled, res)

	content, err := os.ReadFile(filepath.Join(root, "token-123"))
	require.NoError(t, err)
	assert.Equal(t, chal.KeyAuth, string(content))

	require.NoError(t, s.Clear(context.Background(), "example.com", chal))
	_, err = os.Stat(filepath.Join(root, "token-123"))
	assert.True(t, os.IsNotExist(err))

	// Clearing twice must not fail: the file is already gone.
	assert.NoError(t, s.Clear(context.Background(), "example.com", chal))
}

func TestHTTPDirRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	s := (&HTTPDir{Root: root}).Register(NewSet())

	_, err := s.Fulfill(context.Background(), "example.com", Challenge{
		Type:    acme.ChallengeHTTP01,
		Token:   "../escape",
		KeyAuth: "x",
	})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(root, "..", "escape"))
	assert.True(t, os.IsNotExist(statErr))
}
