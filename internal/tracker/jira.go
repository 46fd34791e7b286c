// Package tracker is a small Jira Cloud REST client: fetch an issue with its
// attachments, download attachment content, post a comment.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/models"
)

// DefaultSummaryField is the custom field holding the incident summary.
const DefaultSummaryField = "customfield_10250"

// ErrTooLarge is returned by Download when content exceeds the limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// StatusError is a non-2xx tracker response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jira request failed: status=%d message=%s", e.StatusCode, e.Message)
}

// Options configures NewClient.
type Options struct {
	BaseURL      string
	Domain       string
	Username     string
	APIToken     string
	SummaryField string
	HTTPClient   *http.Client
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// Client is the Jira client.
type Client struct {
	baseURL      string
	username     string
	apiToken     string
	summaryField string
	httpClient   *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" && opts.Domain != "" {
		baseURL = "https://" + strings.TrimSpace(opts.Domain)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	summaryField := strings.TrimSpace(opts.SummaryField)
	if summaryField == "" {
		summaryField = DefaultSummaryField
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 2
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		username:     opts.Username,
		apiToken:     opts.APIToken,
		summaryField: summaryField,
		httpClient:   httpClient,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
	}
}

type issueResponse struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type attachmentField struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

// GetIssue fetches key with its attachments.
func (c *Client) GetIssue(ctx context.Context, key string) (models.Ticket, error) {
	q := url.Values{}
	q.Set("fields", strings.Join([]string{"summary", "description", "status", "reporter", "attachment", c.summaryField}, ","))
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "?" + q.Encode()

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return models.Ticket{}, errors.Wrapf(err, "fetch issue %s", key)
	}
	var resp issueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Ticket{}, errors.Wrapf(err, "decode issue %s", key)
	}
	return c.parseIssue(key, resp), nil
}

func (c *Client) parseIssue(key string, resp issueResponse) models.Ticket {
	t := models.Ticket{Key: key}
	if resp.Key != "" {
		t.Key = resp.Key
	}
	t.Summary = textOf(resp.Fields[c.summaryField])
	if t.Summary == "" {
		t.Summary = textOf(resp.Fields["summary"])
	}
	t.Description = textOf(resp.Fields["description"])

	var status struct {
		Name string `json:"name"`
	}
	if raw, ok := resp.Fields["status"]; ok {
		_ = json.Unmarshal(raw, &status)
		t.Status = status.Name
	}
	var reporter struct {
		DisplayName string `json:"displayName"`
	}
	if raw, ok := resp.Fields["reporter"]; ok {
		_ = json.Unmarshal(raw, &reporter)
		t.Reporter = reporter.DisplayName
	}
	var attachments []attachmentField
	if raw, ok := resp.Fields["attachment"]; ok {
		_ = json.Unmarshal(raw, &attachments)
	}
	for _, a := range attachments {
		t.Attachments = append(t.Attachments, models.Attachment{
			ID:       a.ID,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size,
			URL:      a.Content,
		})
	}
	return t
}

// Download fetches attachment content, refusing anything over limit bytes.
func (c *Client) Download(ctx context.Context, a models.Attachment, limit int64) ([]byte, error) {
	if limit > 0 && a.Size > limit {
		return nil, errors.Wrapf(ErrTooLarge, "%s is %d bytes", a.Filename, a.Size)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.apiToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "download %s", a.Filename)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", a.Filename)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errors.Wrapf(ErrTooLarge, "%s exceeds %d bytes", a.Filename, limit)
	}
	return data, nil
}

// AddComment posts text as a comment on key.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	payload := map[string]any{"body": adfDocument(text)}
	_, err := c.do(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(key)+"/comment", payload)
	return errors.Wrapf(err, "comment on %s", key)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.baseURL == "" {
		return nil, errors.New("jira base url is not configured")
	}
	var bodyBytes []byte
	if payload != nil {
		var err error
		if bodyBytes, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.username, c.apiToken)
		req.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
}

func errorMessage(body []byte) string {
	var parsed struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if len(parsed.ErrorMessages) > 0 {
			return strings.Join(parsed.ErrorMessages, "; ")
		}
		for k, v := range parsed.Errors {
			return k + ": " + v
		}
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
