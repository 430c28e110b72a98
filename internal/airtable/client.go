package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// MaxBatchSize is the API's hard limit on records per create request.
const MaxBatchSize = 10

const defaultBaseURL = "https://api.airtable.com/v0"

// Client is a minimal Airtable REST client for one base/table. All requests
// share one rate limiter so the process as a whole stays inside the API's
// request budget, whatever mix of reads and writes is in flight.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	baseID     string
	table      string
	limiter    *rate.Limiter
}

// NewClient builds a client enforcing minInterval between requests
// (200ms ≈ the documented 5 req/s budget).
func NewClient(apiKey, baseID, table string, minInterval time.Duration) *Client {
	if minInterval <= 0 {
		minInterval = 200 * time.Millisecond
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		baseID:     baseID,
		table:      table,
		limiter:    rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// SetBaseURL points the client at a different endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// ListRecords fetches every record matching filterFormula (all records when
// empty), following pagination offsets.
func (c *Client) ListRecords(ctx context.Context, filterFormula string) ([]Record, error) {
	var (
		out    []Record
		offset string
	)
	for {
		q := url.Values{}
		if filterFormula != "" {
			q.Set("filterByFormula", filterFormula)
		}
		if offset != "" {
			q.Set("offset", offset)
		}
		endpoint := c.tableURL()
		if len(q) > 0 {
			endpoint += "?" + q.Encode()
		}

		var page recordList
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if page.Offset == "" {
			return out, nil
		}
		offset = page.Offset
	}
}

// CreateRecords creates up to MaxBatchSize records in one request and returns
// them with their assigned IDs, in submission order.
func (c *Client) CreateRecords(ctx context.Context, fields []map[string]any) ([]Record, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields) > MaxBatchSize {
		return nil, fmt.Errorf("airtable: batch of %d exceeds limit of %d", len(fields), MaxBatchSize)
	}

	req := createRequest{Typecast: true}
	for _, f := range fields {
		req.Records = append(req.Records, Record{Fields: f})
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, c.tableURL(), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Records) != len(fields) {
		return nil, fmt.Errorf("airtable: sent %d records, got %d back", len(fields), len(resp.Records))
	}
	return resp.Records, nil
}

// UpdateRecord PATCHes one existing record in place. Never deletes or
// re-creates: the record id must stay stable.
func (c *Client) UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	if recordID == "" {
		return fmt.Errorf("airtable: empty record id")
	}
	endpoint := c.tableURL() + "/" + url.PathEscape(recordID)
	return c.do(ctx, http.MethodPatch, endpoint, updateRequest{Fields: fields, Typecast: true}, nil)
}

func (c *Client) tableURL() string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(c.table))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("airtable: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			return fmt.Errorf("airtable: %s returned %d: %s (%s)", method, resp.StatusCode, ae.Error.Message, ae.Error.Type)
		}
		return fmt.Errorf("airtable: %s returned %d: %s", method, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("airtable: decode response: %w", err)
		}
	}
	return nil
}
