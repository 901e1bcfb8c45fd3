package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.twitter.com"
	defaultTimeout = 10 * time.Second
)

// APIError is a non-2xx response from the Twitter API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error refers to a missing resource.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to the Twitter v2 API on behalf of the bot account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	bearer     string
	botUserID  string
	ignoreFile string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithIgnoreFile points the client at a file of tweet ids (one per line)
// that mention fetches silently drop.
func WithIgnoreFile(path string) Option {
	return func(cl *Client) {
		cl.ignoreFile = path
	}
}

// NewClient creates a Twitter client for the given bot account.
func NewClient(bearer, botUserID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		bearer:     bearer,
		botUserID:  botUserID,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// mentionsResponse mirrors the v2 mentions timeline payload.
type mentionsResponse struct {
	Data     []Tweet `json:"data"`
	Includes struct {
		Users []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"users"`
	} `json:"includes"`
}

// Mentions fetches the bot's mention timeline with author names expanded.
// Tweets listed in the ignore file are dropped before the batch is returned.
func (c *Client) Mentions(ctx context.Context) (*MentionBatch, error) {
	q := url.Values{}
	q.Set("expansions", "author_id")
	q.Set("tweet.fields", "author_id,text")
	q.Set("user.fields", "name")

	endpoint := fmt.Sprintf("%s/2/users/%s/mentions?%s", c.baseURL, c.botUserID, q.Encode())
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp mentionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse mentions response: %w", err)
	}

	ignored := c.ignoredTweetIDs()

	batch := &MentionBatch{Users: make(map[string]string)}
	for _, tweet := range resp.Data {
		if ignored[tweet.ID] {
			continue
		}
		batch.Tweets = append(batch.Tweets, tweet)
	}
	for _, user := range resp.Includes.Users {
		batch.Users[user.ID] = user.Name
	}

	c.logger.Debug("fetched mentions", "tweets", len(batch.Tweets), "users", len(batch.Users))
	return batch, nil
}

// replyRequest is the v2 tweet creation payload for a threaded reply.
type replyRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

// Reply posts text as a reply to the given tweet and returns the posted
// tweet's id.
func (c *Client) Reply(ctx context.Context, tweetID, text string) (string, error) {
	var req replyRequest
	req.Text = text
	req.Reply.InReplyToTweetID = tweetID

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal reply: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create reply request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post reply: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read reply response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}

	var posted struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &posted); err != nil {
		return "", fmt.Errorf("parse reply response: %w", err)
	}
	if posted.Data.ID == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "reply response missing tweet id"}
	}

	c.logger.Info("posted reply", "in_reply_to", tweetID, "posted_id", posted.Data.ID)
	return posted.Data.ID, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

// ignoredTweetIDs loads the ignore file, if configured. The file is re-read
// on every fetch so operators can edit it while the daemon runs.
func (c *Client) ignoredTweetIDs() map[string]bool {
	if c.ignoreFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.ignoreFile)
	if err != nil {
		c.logger.Warn("read ignore file", "path", c.ignoreFile, "error", err)
		return nil
	}
	ids := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids[id] = true
		}
	}
	return ids
}

// apiError extracts the error detail from a Twitter error body.
func apiError(status int, body []byte) *APIError {
	var errBody struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	json.Unmarshal(body, &errBody) //nolint:errcheck // best-effort parse

	msg := errBody.Detail
	if msg == "" {
		msg = errBody.Title
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
