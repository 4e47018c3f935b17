package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sensorchat-gateway/internal/utils"
	"sensorchat-gateway/pkg/logger"

	"github.com/patrickmn/go-cache"
)

const maxErrorBody = 4 << 10

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	DefaultModel string
	// CatalogTTL of zero disables catalog caching.
	CatalogTTL time.Duration
	HTTPClient *http.Client
}

// Client talks to the chat/extraction API. It is safe for concurrent use.
type Client struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	catalog      *cache.Cache
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = utils.NewHTTPClient(timeout)
	}

	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		defaultModel: opts.DefaultModel,
		httpClient:   httpClient,
	}
	if opts.CatalogTTL > 0 {
		c.catalog = cache.New(opts.CatalogTTL, 2*opts.CatalogTTL)
	}
	return c
}

func (c *Client) DefaultModel() string {
	return c.defaultModel
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	var wire chatResponseV1
	if err := c.doJSON(ctx, http.MethodPost, "/chat", bytes.NewReader(body), "application/json", &wire); err != nil {
		return nil, err
	}
	return wire.validate()
}

func (c *Client) Reset(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/reset", nil, "application/json", nil)
}

// UploadPDF streams a datasheet to the extraction endpoint as multipart form
// data with a "file" part and a "model" field.
func (c *Client) UploadPDF(ctx context.Context, filename string, r io.Reader, model string) (*UploadResult, error) {
	if model == "" {
		model = c.defaultModel
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	var result UploadResult
	if err := c.doJSON(ctx, http.MethodPost, "/pdf/upload", &buf, mw.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	if err := result.validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListSensors(ctx context.Context, limit, skip int) (*SensorList, error) {
	key := fmt.Sprintf("list:%d:%d", limit, skip)
	var list SensorList
	if c.cached(key, &list) {
		return &list, nil
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(skip))

	if err := c.doJSON(ctx, http.MethodGet, "/sensors?"+q.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	for i := range list.Sensors {
		if err := list.Sensors[i].validate(); err != nil {
			return nil, fmt.Errorf("sensors[%d]: %w", i, err)
		}
	}

	c.store(key, &list)
	return &list, nil
}

func (c *Client) GetSensor(ctx context.Context, model string) (*SensorRecord, error) {
	key := "sensor:" + model
	var record SensorRecord
	if c.cached(key, &record) {
		return &record, nil
	}

	err := c.doJSON(ctx, http.MethodGet, "/sensors/"+url.PathEscape(model), nil, "", &record)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, model)
		}
		return nil, err
	}
	if err := record.validate(); err != nil {
		return nil, err
	}

	c.store(key, &record)
	return &record, nil
}

// InvalidateCatalog drops cached catalog lookups, e.g. after a new datasheet
// was extracted.
func (c *Client) InvalidateCatalog() {
	if c.catalog != nil {
		c.catalog.Flush()
	}
}

// Catalog entries are kept encoded so every hit decodes into the caller's own
// value and nobody can modify what the cache holds.
func (c *Client) cached(key string, out interface{}) bool {
	if c.catalog == nil {
		return false
	}
	raw, ok := c.catalog.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw.([]byte), out); err != nil {
		logger.Warnf("Dropping undecodable catalog entry %s: %v", key, err)
		c.catalog.Delete(key)
		return false
	}
	return true
}

func (c *Client) store(key string, v interface{}) {
	if c.catalog == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warnf("Not caching catalog entry %s: %v", key, err)
		return
	}
	c.catalog.Set(key, data, cache.DefaultExpiration)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	logger.Debugf("upstream %s %s -> %d in %s", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Detail: errorDetail(raw)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return malformed("%s %s: %v", method, path, err)
	}
	return nil
}

func errorDetail(raw []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			return s
		}
		return string(payload.Detail)
	}
	return strings.TrimSpace(string(raw))
}
