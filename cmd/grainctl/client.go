package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// apiError is the body the admin API sends with non-2xx responses.
type apiError struct {
	Message string `json:"message"`
}

// client issues basic-authenticated requests against the admin API.
type client struct {
	base     string
	username string
	password string
	http     *http.Client
}

func newClient() *client {
	return &client{
		base:     strings.TrimRight(serverURL, "/"),
		username: adminUser,
		password: adminPassword,
		http:     &http.Client{},
	}
}

// do sends one request, with body marshaled as JSON when non-nil, and
// decodes a 2xx response into out when out is non-nil. Any other status
// becomes an error carrying the server's message.
func (c *client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
