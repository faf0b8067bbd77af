package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/cpu/certmini/acme/resources"
)

// Directory returns the ACME server's directory resource, fetching and
// memoizing it on first use. The directory URL is fixed for the client's
// lifetime.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.1
func (c *Client) Directory() (*resources.Directory, error) {
	if c.directory == nil {
		if err := c.updateDirectory(); err != nil {
			return nil, err
		}
	}

	return c.directory, nil
}

func (c *Client) updateDirectory() error {
	url := c.DirectoryURL.String()

	resp, err := c.net.GetURL(url)
	if err != nil {
		return err
	}
	if resp.Response.StatusCode != http.StatusOK {
		return fmt.Errorf("directory fetch returned HTTP status %d",
			resp.Response.StatusCode)
	}

	var directory resources.Directory
	if err := json.Unmarshal(resp.RespBody, &directory); err != nil {
		return fmt.Errorf("directory fetch returned invalid JSON: %w", err)
	}
	if err := directory.Check(); err != nil {
		return err
	}

	c.directory = &directory
	log.Printf("Updated directory from %q", url)
	return nil
}

// endpointURL resolves a well-known directory entry to its URL, fetching
// the directory first when needed.
func (c *Client) endpointURL(name string) (string, error) {
	dir, err := c.Directory()
	if err != nil {
		return "", err
	}
	u, ok := dir.Endpoint(name)
	if !ok {
		return "", fmt.Errorf("ACME server directory has no %q endpoint", name)
	}
	return u, nil
}
