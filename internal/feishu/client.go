package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

const (
	defaultBaseURL = "https://open.feishu.cn/open-apis"
	batchSize      = 100
	tokenSlack     = 60 * time.Second
)

// Client writes learning records into a Feishu bitable.
type Client struct {
	appID     string
	appSecret string
	appToken  string
	tableID   string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(appID, appSecret, appToken, tableID string, logger *slog.Logger) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		appToken:  appToken,
		tableID:   tableID,
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		now:       time.Now,
	}
}

// SetBaseURL points the client at another host, e.g. an httptest server.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

func (c *Client) Name() string {
	return "feishu"
}

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// tenantToken returns the cached tenant access token, refreshing it a minute
// before it expires.
func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	var resp struct {
		envelope
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	payload := map[string]string{"app_id": c.appID, "app_secret": c.appSecret}
	if err := c.post(ctx, "/auth/v3/tenant_access_token/internal", "", payload, &resp); err != nil {
		return "", fmt.Errorf("tenant token: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("tenant token: code %d: %s", resp.Code, resp.Msg)
	}
	if resp.TenantAccessToken == "" {
		return "", fmt.Errorf("tenant token: empty token")
	}

	ttl := time.Duration(resp.Expire) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	c.token = resp.TenantAccessToken
	c.expiresAt = c.now().Add(ttl - tokenSlack)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Push creates one row per record, in order, in batches. It returns how many
// rows were created before any error.
func (c *Client) Push(ctx context.Context, lessonID string, records []extractor.SinkRecord) (int, error) {
	created := 0
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		n, err := c.createBatch(ctx, records[start:end])
		created += n
		if err != nil {
			return created, fmt.Errorf("push %s records %d-%d: %w", lessonID, start+1, end, err)
		}
	}

	c.logger.Info("pushed records to bitable", "lesson_id", lessonID, "records", created, "table_id", c.tableID)
	return created, nil
}

func (c *Client) createBatch(ctx context.Context, batch []extractor.SinkRecord) (int, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return 0, err
	}

	rows := make([]map[string]any, len(batch))
	for i, rec := range batch {
		rows[i] = map[string]any{"fields": bitableFields(rec.Fields)}
	}

	var resp struct {
		envelope
		Data struct {
			Records []struct {
				RecordID string `json:"record_id"`
			} `json:"records"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records/batch_create", c.appToken, c.tableID)
	if err := c.post(ctx, path, token, map[string]any{"records": rows}, &resp); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return 0, err
	}
	if resp.Code != 0 {
		return 0, fmt.Errorf("batch create: code %d: %s", resp.Code, resp.Msg)
	}
	return len(resp.Data.Records), nil
}

// bitableFields adapts normalized fields to the column types of the table:
// the link column is a hyperlink object and the review date is epoch millis.
func bitableFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	if url, ok := out[extractor.FieldLink].(string); ok {
		if url == "" {
			delete(out, extractor.FieldLink)
		} else {
			out[extractor.FieldLink] = map[string]string{"text": extractor.LinkLabel, "link": url}
		}
	}

	switch v := out[extractor.FieldNextReview].(type) {
	case nil:
		delete(out, extractor.FieldNextReview)
	case string:
		if t, err := time.Parse("2006-01-02", strings.TrimSpace(v)); err == nil {
			out[extractor.FieldNextReview] = t.UnixMilli()
		} else {
			delete(out, extractor.FieldNextReview)
		}
	}
	return out
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body)
}

func (c *Client) post(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
