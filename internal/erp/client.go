package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Object types served by the ERP object API.
const (
	TypeShipment      = "Shipment"
	TypeCarton        = "Carton"
	TypeCartonContent = "CartonContent"
	TypeJob           = "Job"
	TypeJobComponent  = "JobComponent"
	TypeJobProduct    = "JobProduct"
	TypeJobPart       = "JobPart"
	TypeCustomer      = "Customer"
	TypeShipVia       = "ShipVia"
	TypeShipProvider  = "ShipProvider"
)

const maxErrorBody = 64 << 10 // 64KB

// StatusError is returned for any non-2xx response. Body holds the raw
// upstream payload for diagnostics.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("erp %s: unexpected status %d", e.Op, e.Status)
}

// IsNotFound reports whether err is a 404 from the ERP.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Client talks to the ERP object API. Credentials are sent as HTTP Basic
// auth on every request; there is no session reuse.
type Client struct {
	baseURL    string
	creds      CredentialSource
	httpClient *http.Client
}

// New creates a Client. A zero timeout leaves requests unbounded.
func New(baseURL string, creds CredentialSource, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Find returns the identifiers of objects of objType matching query. The ERP
// never returns bodies from this call.
func (c *Client) Find(ctx context.Context, objType, query string, offset, limit int, sort []string) ([]string, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	for _, s := range sort {
		q.Add("sort", s)
	}

	body, err := c.do(ctx, "find", http.MethodGet, "/"+url.PathEscape(objType)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding find response: %w", err)
	}
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			ids = append(ids, s)
			continue
		}
		// Numeric ids come back unquoted.
		ids = append(ids, strings.TrimSpace(string(r)))
	}
	return ids, nil
}

// Read returns the raw body of one object.
func (c *Client) Read(ctx context.Context, objType, id string) ([]byte, error) {
	return c.do(ctx, "read", http.MethodGet, "/"+url.PathEscape(objType)+"/"+url.PathEscape(id), nil)
}

// Create posts a new object and returns the upstream response body.
func (c *Client) Create(ctx context.Context, objType string, payload any) ([]byte, error) {
	return c.do(ctx, "create", http.MethodPost, "/"+url.PathEscape(objType), payload)
}

// Update replaces fields of an existing object.
func (c *Client) Update(ctx context.Context, objType, id string, payload any) ([]byte, error) {
	return c.do(ctx, "update", http.MethodPut, "/"+url.PathEscape(objType)+"/"+url.PathEscape(id), payload)
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, objType, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, "/"+url.PathEscape(objType)+"/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erp %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}
	return body, nil
}
