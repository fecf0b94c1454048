package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fde-io/fde/pkg/log"
	"github.com/fde-io/fde/pkg/types"
	"github.com/rs/zerolog"
)

// shortTimeout applies to the quick endpoints (ping, health, verify,
// status); uploads and deploy streams manage their own deadlines.
const shortTimeout = 10 * time.Second

// Client talks to one fde server on behalf of one environment.
type Client struct {
	env    *types.Environment
	http   *http.Client
	logger zerolog.Logger

	// Progress enables terminal progress bars for compression and
	// upload.
	Progress bool

	// ChunkSize and Workers tune the chunked upload engine.
	ChunkSize int64
	Workers   int
}

// New creates a client for a resolved environment.
func New(env *types.Environment) (*Client, error) {
	if env.ServerURL == "" {
		return nil, fmt.Errorf("no serverUrl configured for environment %q", env.Name)
	}
	return &Client{
		env:       env,
		http:      &http.Client{},
		logger:    log.WithComponent("client"),
		ChunkSize: DefaultChunkSize,
		Workers:   DefaultWorkers,
	}, nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.env.ServerURL, "/") + path
}

// doJSON posts a JSON body and decodes a JSON response into out. Non-2xx
// responses are returned as errors carrying the server's error body.
func (c *Client) doJSON(method, path string, body any, out any, timeout time.Duration) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.url(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", c.env.Token)

	client := c.http
	if timeout > 0 {
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       types.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body.Error)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

func responseError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil {
		_ = json.Unmarshal(data, &apiErr.Body)
	}
	return apiErr
}

// Ping checks basic reachability.
func (c *Client) Ping() error {
	req, err := http.NewRequest(http.MethodGet, c.url("/ping"), nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: shortTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected ping status %d", resp.StatusCode)
	}
	return nil
}

// Health fetches the server health snapshot.
func (c *Client) Health() (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := c.doJSON(http.MethodGet, "/health", nil, &out, shortTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify checks that the configured env and token are accepted.
func (c *Client) Verify() (*types.VerifyResponse, error) {
	var out types.VerifyResponse
	req := types.VerifyRequest{Env: c.env.Name}
	if err := c.doJSON(http.MethodPost, "/verify", req, &out, shortTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeployStatus fetches the terminal state of the last (or running)
// deploy.
func (c *Client) DeployStatus() (*types.DeployStatusResponse, error) {
	var out types.DeployStatusResponse
	path := "/deploy/status?env=" + c.env.Name
	if err := c.doJSON(http.MethodGet, path, nil, &out, shortTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}
