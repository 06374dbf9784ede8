package elvis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	csrfHeader = "X-CSRF-TOKEN"

	// DefaultRetryDelay is how long a download waits before retrying a 409,
	// which Elvis returns while it is still generating a preview.
	DefaultRetryDelay = 5 * time.Second

	// DefaultLoginTimeout bounds a shared login, which no single caller can cancel.
	DefaultLoginTimeout = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL  string
	Username string
	Password string

	// HTTPClient is used for all calls. A cookie jar is attached when it has none.
	HTTPClient   *http.Client
	RetryDelay   time.Duration
	LoginTimeout time.Duration
}

// Client talks to the Elvis REST API using a session cookie and, on Elvis 6+,
// a CSRF token. Expired sessions are detected through 401 responses and
// transparently re-established.
type Client struct {
	BaseURL    string
	username   string
	password   string
	httpClient   *http.Client
	retryDelay   time.Duration
	loginTimeout time.Duration

	mu         sync.RWMutex
	csrfToken  string
	generation uint64

	logins singleflight.Group
}

// session is the authentication state a single attempt was issued with.
type session struct {
	csrfToken  string
	generation uint64
}

// NewClient creates a new Elvis client. No login happens until the first 401.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	loginTimeout := opts.LoginTimeout
	if loginTimeout <= 0 {
		loginTimeout = DefaultLoginTimeout
	}

	return &Client{
		BaseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		username:     opts.Username,
		password:     opts.Password,
		httpClient:   httpClient,
		retryDelay:   retryDelay,
		loginTimeout: loginTimeout,
	}, nil
}

// Request performs a JSON API call against path and decodes the response into out
// (which may be nil). On a 401 the client logs in and retries the call once.
func (c *Client) Request(ctx context.Context, method, path string, form url.Values, out any) error {
	return c.withSession(ctx, func(s session) error {
		return c.apiRequest(ctx, s, method, path, form, out)
	})
}

// Login establishes a new session. Concurrent callers share a single login.
func (c *Client) Login(ctx context.Context) error {
	return c.reauthenticate(ctx, c.currentSession().generation)
}

func (c *Client) currentSession() session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return session{csrfToken: c.csrfToken, generation: c.generation}
}

// withSession runs call once and, if it was rejected with a 401, logs in and
// runs it exactly one more time. A second 401 is returned to the caller.
func (c *Client) withSession(ctx context.Context, call func(s session) error) error {
	s := c.currentSession()
	err := call(s)
	if !IsUnauthorized(err) {
		return err
	}

	if err := c.reauthenticate(ctx, s.generation); err != nil {
		return err
	}
	return call(c.currentSession())
}

// reauthenticate logs in unless the session that produced the 401 has already
// been replaced. Only one login is ever in flight; everyone else waits for it
// and observes the same outcome. A waiter whose ctx ends stops waiting, the
// login itself carries on for the others.
func (c *Client) reauthenticate(ctx context.Context, staleGeneration uint64) error {
	results := c.logins.DoChan("login", func() (any, error) {
		if c.currentSession().generation != staleGeneration {
			return nil, nil
		}
		// The login belongs to every waiting caller, not just the one that started it.
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loginTimeout)
		defer cancel()
		return nil, c.login(loginCtx)
	})

	select {
	case res := <-results:
		if res.Shared {
			slog.Debug("Joined in-flight Elvis login")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loginResponse struct {
	LoginSuccess      bool   `json:"loginSuccess"`
	LoginFaultMessage string `json:"loginFaultMessage"`
	CSRFToken         string `json:"csrfToken"`
}

func (c *Client) login(ctx context.Context) error {
	slog.Info("Not logged in, logging in to Elvis", "url", c.BaseURL, "user", c.username)

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	var resp loginResponse
	if err := c.apiRequest(ctx, session{}, http.MethodPost, "/services/login", form, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if !resp.LoginSuccess {
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, resp.LoginFaultMessage)
	}

	c.mu.Lock()
	if resp.CSRFToken != "" {
		c.csrfToken = resp.CSRFToken
	}
	c.generation++
	c.mu.Unlock()

	slog.Info("Elvis login successful", "user", c.username)
	return nil
}

// errorBody is how Elvis reports failures inside an otherwise successful response.
type errorBody struct {
	ErrorCode int    `json:"errorcode"`
	Message   string `json:"message"`
}

func (c *Client) apiRequest(ctx context.Context, s session, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	c.addCSRFToken(req, s)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: responseMessage(data, resp.Status)}
	}

	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		var eb errorBody
		if err := json.Unmarshal(data, &eb); err == nil && eb.ErrorCode != 0 {
			return &HTTPError{StatusCode: eb.ErrorCode, Message: eb.Message}
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) addCSRFToken(req *http.Request, s session) {
	if s.csrfToken != "" {
		req.Header.Set(csrfHeader, s.csrfToken)
	}
}

// resolve turns a server relative path into an absolute URL. Absolute URLs,
// such as preview links returned by search, are used as is.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

func responseMessage(data []byte, status string) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Message != "" {
		return eb.Message
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" || len(msg) > 512 {
		return status
	}
	return msg
}
