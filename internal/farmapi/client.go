package farmapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/five82/printfarm/internal/printer"
)

var (
	// ErrNotFound is returned when the server does not know the printer.
	ErrNotFound = errors.New("printer not found")
	// ErrPrinterReported wraps an {"error": ...} body returned with a 2xx status.
	ErrPrinterReported = errors.New("printer reported error")
)

// Fetcher defines the requests the poll source issues.
// This interface is implemented by *Client and can be used for testing.
type Fetcher interface {
	FetchPrinters(ctx context.Context) ([]printer.Summary, error)
	FetchStatus(ctx context.Context, id string) (printer.StatusPayload, error)
	FetchFilament(ctx context.Context, id string) (printer.FilamentPayload, error)
}

// Ensure Client implements Fetcher at compile time.
var _ Fetcher = (*Client)(nil)

// Client talks to the fleet server REST API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

const (
	DefaultServer    = "127.0.0.1:8000"
	defaultUserAgent = "printfarm/0.1"
	requestTimeout   = 5 * time.Second
	maxBodyBytes     = 1 << 20
)

// NewClient builds a Client for the server origin (host:port or URL).
func NewClient(server string) (*Client, error) {
	base, err := parseBaseURL(server)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns the normalized server origin.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// FetchPrinters retrieves the roster.
func (c *Client) FetchPrinters(ctx context.Context) ([]printer.Summary, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var payload []printer.Summary
	if err := c.do(ctx, "/api/printers", &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FetchStatus retrieves the full status of one printer.
func (c *Client) FetchStatus(ctx context.Context, id string) (printer.StatusPayload, error) {
	if c == nil {
		return printer.StatusPayload{}, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return printer.StatusPayload{}, fmt.Errorf("printer id required")
	}
	var payload printer.StatusPayload
	if err := c.do(ctx, printerPath(id, "status"), &payload); err != nil {
		return printer.StatusPayload{}, err
	}
	return payload, nil
}

// filamentWire is the subset of the tray description the client keeps.
type filamentWire struct {
	TrayType json.RawMessage `json:"tray_type"`
}

// FetchFilament retrieves the loaded tray of one printer. A missing, null or
// non-string tray_type yields a nil TrayType.
func (c *Client) FetchFilament(ctx context.Context, id string) (printer.FilamentPayload, error) {
	if c == nil {
		return printer.FilamentPayload{}, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return printer.FilamentPayload{}, fmt.Errorf("printer id required")
	}
	var wire filamentWire
	if err := c.do(ctx, printerPath(id, "filamentinfo"), &wire); err != nil {
		return printer.FilamentPayload{}, err
	}
	var tray string
	if len(wire.TrayType) == 0 || json.Unmarshal(wire.TrayType, &tray) != nil {
		return printer.FilamentPayload{}, nil
	}
	return printer.FilamentPayload{TrayType: &tray}, nil
}

func printerPath(id, leaf string) string {
	return "/api/printers/" + url.PathEscape(id) + "/" + leaf
}

type errorBody struct {
	Error *string `json:"error"`
}

func (c *Client) do(ctx context.Context, path string, dest any) error {
	rel := &url.URL{Path: path}
	if strings.Contains(path, "%") {
		unescaped, err := url.PathUnescape(path)
		if err != nil {
			return fmt.Errorf("invalid path %q: %w", path, err)
		}
		rel = &url.URL{Path: unescaped, RawPath: path}
	}
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("api %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api %s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var eb errorBody
		if json.Unmarshal(trimmed, &eb) == nil && eb.Error != nil {
			return fmt.Errorf("api %s: %w: %s", path, ErrPrinterReported, *eb.Error)
		}
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(trimmed, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBaseURL(server string) (*url.URL, error) {
	trimmed := strings.TrimSpace(server)
	if trimmed == "" {
		trimmed = DefaultServer
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse server %q: %w", server, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server %q: unsupported scheme %q", server, u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
