package solver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cpu/certmini/acme"
)

// HTTPDir fulfills http-01 challenges by writing the key authorization to
// a file named after the challenge token inside a directory an external web
// server already publishes at /.well-known/acme-challenge/.
type HTTPDir struct {
	// Root is the directory challenge files are written to.
	Root string
}

// Register installs the http-01 hooks on the given Set and returns it.
func (d *HTTPDir) Register(s *Set) *Set {
	return s.Register(acme.ChallengeHTTP01, Hooks{
		Fulfill: d.fulfill,
		Clear:   d.clear,
	})
}

func (d *HTTPDir) challengePath(chal Challenge) (string, error) {
	if chal.Token == "" {
		return "", fmt.Errorf("challenge has no token")
	}
	// A token is server-provided input. Refuse any value that would escape
	// the challenge root.
	if filepath.Base(chal.Token) != chal.Token {
		return "", fmt.Errorf("challenge token %q is not a clean filename", chal.Token)
	}
	return filepath.Join(d.Root, chal.Token), nil
}

func (d *HTTPDir) fulfill(_ context.Context, _ string, chal Challenge) (Result, error) {
	path, err := d.challengePath(chal)
	if err != nil {
		return NotHandled, err
	}
	if err := os.WriteFile(path, []byte(chal.KeyAuth), 0644); err != nil {
		return NotHandled, err
	}
	return Handled, nil
}

func (d *HTTPDir) clear(_ context.Context, _ string, chal Challenge) error {
	path, err := d.challengePath(chal)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
