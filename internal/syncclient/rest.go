package syncclient

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

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultHTTPTimeout     = 15 * time.Second
	defaultMaxRetryElapsed = 30 * time.Second
	tokenCookieName        = "token"
)

// ErrUnauthorized means the session token was rejected. The client cannot
// recover from it by itself.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the chat server.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Client calls the chat REST API. Reads are retried with exponential
// backoff on transport errors and 5xx responses; writes are attempted once.
type Client struct {
	baseURL         string
	token           string
	httpClient      *http.Client
	maxRetryElapsed time.Duration
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		token:           token,
		httpClient:      &http.Client{Timeout: defaultHTTPTimeout},
		maxRetryElapsed: defaultMaxRetryElapsed,
	}
}

func (c *Client) Token() string {
	return c.token
}

// SetMaxRetryElapsed bounds the total time spent retrying one read. Zero
// keeps retrying until the context ends.
func (c *Client) SetMaxRetryElapsed(d time.Duration) {
	c.maxRetryElapsed = d
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// get runs a read with retries.
func (c *Client) get(ctx context.Context, path string, result any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.maxRetryElapsed

	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, path, nil, result)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.Is(err, ErrUnauthorized) || (errors.As(err, &apiErr) && !apiErr.Temporary()) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// Login exchanges credentials for a session token and keeps it for later
// calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	reqBody, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			return "", ErrUnauthorized
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: strings.ToLower(http.StatusText(resp.StatusCode))}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == tokenCookieName && cookie.Value != "" {
			c.token = cookie.Value
			return c.token, nil
		}
	}

	return "", errors.New("login response carried no session token")
}

// Session returns the authenticated user.
func (c *Client) Session(ctx context.Context) (types.User, error) {
	var u types.User
	if err := c.get(ctx, "/api/auth/session", &u); err != nil {
		return types.User{}, err
	}
	return u, nil
}

func pageQuery(page types.Page) string {
	q := url.Values{}
	if page.Before > 0 {
		q.Set("before", strconv.FormatInt(page.Before, 10))
	}
	if page.After > 0 {
		q.Set("after", strconv.FormatInt(page.After, 10))
	}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) ListConversations(ctx context.Context, page types.Page) ([]types.ConversationSummary, error) {
	var convs []types.ConversationSummary
	if err := c.get(ctx, "/api/conversations"+pageQuery(page), &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationId string, page types.Page) ([]types.Message, error) {
	var msgs []types.Message
	path := "/api/conversations/" + url.PathEscape(conversationId) + "/messages" + pageQuery(page)
	if err := c.get(ctx, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) CreateConversation(ctx context.Context, participantId int, conversationContext string) (types.Conversation, error) {
	var conv types.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", types.CreateConversationRequest{
		ParticipantId:       participantId,
		ConversationContext: conversationContext,
	}, &conv)
	if err != nil {
		return types.Conversation{}, err
	}
	return conv, nil
}

// SendMessage is never retried; a failure is reported to the caller.
func (c *Client) SendMessage(ctx context.Context, req types.SendMessageRequest) (types.Message, error) {
	var msg types.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationId string) (int, error) {
	var resp types.CountResponse
	if err := c.do(ctx, http.MethodPost, "/api/messages/read", types.MarkReadRequest{ConversationId: conversationId}, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp types.CountResponse
	if err := c.get(ctx, "/api/messages/unread-count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) Presence(ctx context.Context, userId int) (types.PresenceResponse, error) {
	var resp types.PresenceResponse
	if err := c.get(ctx, "/api/users/"+strconv.Itoa(userId)+"/presence", &resp); err != nil {
		return types.PresenceResponse{}, err
	}
	return resp, nil
}
