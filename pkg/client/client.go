// Package client is a Go client for the memdb HTTP API.
package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/mnohosten/memdb/pkg/connstring"
	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

const apiPrefix = "/api/v1"

// Client represents a memdb client connection
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     *Config
}

// Config holds configuration for the client
type Config struct {
	// Host is the server hostname or IP address (default: "localhost")
	Host string
	// Port is the server port (default: 8080)
	Port int
	// Timeout is the HTTP request timeout (default: 30s)
	Timeout time.Duration
	// MaxIdleConns is the maximum number of idle connections (default: 10)
	MaxIdleConns int
	// MaxConnsPerHost is the maximum connections per host (default: 10)
	MaxConnsPerHost int
	TLS             bool
	TLSInsecure     bool
	// Compression requests gzip responses
	Compression bool
	AppName     string
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		Timeout:         30 * time.Second,
		MaxIdleConns:    10,
		MaxConnsPerHost: 10,
		Compression:     true,
	}
}

// NewClient creates a new client with the given configuration
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxConnsPerHost == 0 {
		config.MaxConnsPerHost = 10
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.MaxIdleConns,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		MaxIdleConnsPerHost: config.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}
	if config.TLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: config.TLSInsecure,
			MinVersion:         tls.VersionTLS12,
		}
	}

	var rt http.RoundTripper = transport
	if config.Compression {
		rt = gzhttp.Transport(transport)
	}

	scheme := "http"
	if config.TLS {
		scheme = "https"
	}

	return &Client{
		baseURL: fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(config.Host, strconv.Itoa(config.Port))),
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: rt,
		},
		config: config,
	}
}

// Connect creates a client from a memdb:// connection string
func Connect(uri string) (*Client, error) {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return nil, err
	}
	return NewClient(&Config{
		Host:            cs.Host,
		Port:            cs.Port,
		Timeout:         cs.Options.Timeout,
		MaxIdleConns:    cs.Options.MaxConnections,
		MaxConnsPerHost: cs.Options.MaxConnections,
		TLS:             cs.Options.TLS,
		TLSInsecure:     cs.Options.TLSInsecure,
		Compression:     cs.Options.Compression,
		AppName:         cs.Options.AppName,
	}), nil
}

// NewDefaultClient creates a client with default configuration
func NewDefaultClient() *Client {
	return NewClient(DefaultConfig())
}

// BaseURL returns the server URL the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response represents a standard API response
type Response struct {
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result,omitempty"`
	Count   *int            `json:"count,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    int             `json:"code,omitempty"`
}

// APIError is an error reported by the server. Kind is the server's error
// name such as "DuplicateKey" or "NotFound".
type APIError struct {
	Status  int
	Code    int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

// Is matches a dberr.Kind by name, so errors.Is(err, dberr.DuplicateKey)
// works across the wire
func (e *APIError) Is(target error) bool {
	if k, ok := target.(dberr.Kind); ok {
		return k.String() == e.Kind
	}
	return false
}

// doRequest performs an HTTP request and returns the decoded envelope
func (c *Client) doRequest(method, path string, body interface{}) (*Response, error) {
	reqURL := c.baseURL + apiPrefix + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.AppName != "" {
		req.Header.Set("User-Agent", c.config.AppName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}

	if !apiResp.OK {
		return &apiResp, &APIError{
			Status:  resp.StatusCode,
			Code:    apiResp.Code,
			Kind:    apiResp.Error,
			Message: apiResp.Message,
		}
	}

	return &apiResp, nil
}

// call performs a request and decodes the result into out
func (c *Client) call(method, path string, body, out interface{}) (*Response, error) {
	resp, err := c.doRequest(method, path, body)
	if err != nil {
		return resp, err
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return resp, fmt.Errorf("failed to parse %s %s result: %w", method, path, err)
		}
	}
	return resp, nil
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
	Time     string `json:"time"`
}

// Health checks the server health
func (c *Client) Health() (*HealthResponse, error) {
	var health HealthResponse
	if _, err := c.call(http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Stats retrieves database statistics
func (c *Client) Stats() (map[string]interface{}, error) {
	var stats map[string]interface{}
	if _, err := c.call(http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// SlowOperation is one entry of the server's slow operation log
type SlowOperation map[string]interface{}

// SlowOperations returns the slowest logged operations
func (c *Client) SlowOperations(limit int) ([]SlowOperation, error) {
	var ops []SlowOperation
	path := "/slow?limit=" + strconv.Itoa(limit)
	if _, err := c.call(http.MethodGet, path, nil, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// ListCollections returns the catalog entry of every collection
func (c *Client) ListCollections() ([]*document.Document, error) {
	var result struct {
		Collections []*document.Document `json:"collections"`
	}
	if _, err := c.call(http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}
	return result.Collections, nil
}

// CollectionNames returns the names of every collection
func (c *Client) CollectionNames() ([]string, error) {
	infos, err := c.ListCollections()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if v, ok := info.GetValue("name"); ok {
			if s, ok := v.StringValue(); ok {
				names = append(names, s)
			}
		}
	}
	return names, nil
}

// Collection returns a collection handle for the given name. The server
// creates the collection on first write.
func (c *Client) Collection(name string) *Collection {
	return &Collection{
		client: c,
		name:   name,
	}
}

// CollectionOptions are the options of an explicit create
type CollectionOptions struct {
	Validator *document.Document `json:"validator,omitempty"`
	Max       int                `json:"max,omitempty"`
}

// CreateCollection creates a new collection
func (c *Client) CreateCollection(name string, opts *CollectionOptions) (*Collection, error) {
	if opts == nil {
		opts = &CollectionOptions{}
	}
	if _, err := c.doRequest(http.MethodPut, collectionPath(name, ""), opts); err != nil {
		return nil, err
	}
	return c.Collection(name), nil
}

// DropCollection drops a collection
func (c *Client) DropCollection(name string) error {
	_, err := c.doRequest(http.MethodDelete, collectionPath(name, ""), nil)
	return err
}

// DropDatabase removes every collection
func (c *Client) DropDatabase() error {
	_, err := c.doRequest(http.MethodDelete, "/database", nil)
	return err
}

// Close closes the client and releases resources
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func collectionPath(name, action string) string {
	p := "/collections/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

// IsNotFound reports whether err is a server NotFound error
func IsNotFound(err error) bool {
	return errors.Is(err, dberr.NotFound)
}
