// Package autemo talks to the autemo.com shoutbox: it authenticates, fetches
// and parses the chat stream, posts shouts and scrapes the online-user roster.
// The site has no structured API, so everything here works against
// server-rendered HTML and is coupled to its presentation markup.
package autemo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autemo-sync/pkg/shout"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

const (
	// DefaultBaseURL is the production site root.
	DefaultBaseURL = "http://www.autemo.com"

	userAgent = "Shoutemo"

	// Timeout bounds every remote call, connect and read combined.
	Timeout = 12 * time.Second

	sessionCookie = "PHPSESSID"

	loginPath   = "/login"
	shoutPath   = "/includes/js/ajax/yshout.php"
	profilePath = "/profiles/edit/"
)

// NetworkError wraps any transport or timeout failure talking to the site.
// Callers treat it as transient and retry on the next poll cycle.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// Client performs the remote operations against a single autemo.com instance.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// New creates a client rooted at baseURL. Pass DefaultBaseURL outside of tests.
func New(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// Authenticate performs the login form POST and returns the session cookies
// the server set. It does not validate the credentials; validity is only
// established by a subsequent successful fetch.
func (c *Client) Authenticate(ctx context.Context, email, password string) ([]*http.Cookie, error) {
	loginURL := c.baseURL + loginPath
	form := url.Values{
		"lgemail":    {email},
		"lgpassword": {password},
		"Submit":     {"Login >"},
		"submitted":  {"TRUE"},
	}

	var cookies []*http.Cookie

	err := retry.Do(
		func() error {
			c.logger.Info("HTTP request starting", "method", "POST", "url", loginURL, "purpose", "login")

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("User-Agent", userAgent)

			// The session cookie rides on the login response itself, which the
			// server answers with a redirect. Stop there so Set-Cookie is visible.
			client := *c.httpClient
			client.CheckRedirect = func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			}

			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				c.logger.Warn("HTTP request failed, will retry",
					"url", loginURL, "duration_ms", time.Since(start).Milliseconds(), "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("HTTP request completed",
				"url", loginURL, "status_code", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

			cookies = resp.Cookies()
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying login after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, &NetworkError{Op: "login", URL: loginURL, Err: err}
	}

	return cookies, nil
}

// Token authenticates and returns the session-identifying cookie value, used
// as the durable auth token for later fetch and post calls.
func (c *Client) Token(ctx context.Context, email, password string) (string, error) {
	cookies, err := c.Authenticate(ctx, email, password)
	if err != nil {
		return "", err
	}

	for _, cookie := range cookies {
		if cookie.Name == sessionCookie {
			c.logger.Debug("Session token acquired")
			return cookie.Value, nil
		}
	}

	return "", fmt.Errorf("login response set no %s cookie", sessionCookie)
}

// CredentialsValid authenticates and fetches posts with the resulting
// session; the credentials are considered valid iff the post list is
// non-empty. A temporarily empty shoutbox therefore reads as invalid
// credentials; the remote offers nothing better to distinguish the two.
func (c *Client) CredentialsValid(ctx context.Context, email, password string) (bool, error) {
	token, err := c.Token(ctx, email, password)
	if err != nil {
		return false, err
	}

	posts, err := c.FetchPosts(ctx, token)
	if err != nil {
		return false, err
	}

	return len(posts) > 0, nil
}

// FetchPosts GETs the shoutbox feed using the token as the session cookie and
// parses every post element. An expired session yields an empty page rather
// than an HTTP error, so an empty result is the caller's expiry signal.
func (c *Client) FetchPosts(ctx context.Context, token string) ([]*shout.Post, error) {
	feedURL := c.baseURL + shoutPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "fetch posts", URL: feedURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "fetch posts", URL: feedURL, Err: err}
	}

	posts := parsePosts(doc, time.Now())

	c.logger.Debug("Shoutbox feed fetched",
		"url", feedURL,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"posts_found", len(posts))

	return posts, nil
}

// SendPost posts a shout, splitting over-length text into word-bounded chunks
// of at most 250 characters and sending them sequentially. It returns the
// HTTP status of the last chunk sent, or -1 if nothing was sent.
//
// When a single word cannot fit a chunk, ErrMessageTooLong is returned; the
// chunks completed before the offending word have already been sent by then.
// There is no rollback for a partial multi-chunk send.
func (c *Client) SendPost(ctx context.Context, token, message string) (int, error) {
	chunks, splitErr := splitShout(message)

	status := -1
	for _, chunk := range chunks {
		st, err := c.sendChunk(ctx, token, chunk)
		if err != nil {
			return status, err
		}
		status = st
	}

	if splitErr != nil {
		return status, splitErr
	}
	return status, nil
}

func (c *Client) sendChunk(ctx context.Context, token, chunk string) (int, error) {
	sendURL := c.baseURL + shoutPath + "?m=shout"
	form := url.Values{
		"x_message": {chunk},
		"submit":    {"Shout!"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, strings.NewReader(form.Encode()))
	if err != nil {
		return -1, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return -1, &NetworkError{Op: "send shout", URL: sendURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Info("Shout chunk sent", "status_code", resp.StatusCode, "chunk_length", len(chunk))
	return resp.StatusCode, nil
}

// OnlineUsers GETs the site front page and extracts the who's-online roster
// from its fixed layout region. A page without that region yields an empty
// list, not an error.
func (c *Client) OnlineUsers(ctx context.Context) ([]*shout.Author, error) {
	pageURL := c.baseURL + "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "fetch online users", URL: pageURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "fetch online users", URL: pageURL, Err: err}
	}

	var users []*shout.Author
	doc.Find("#whosonline a[href*='/profiles/']").Each(func(_ int, sel *goquery.Selection) {
		name := strings.TrimSpace(sel.Text())
		if name == "" {
			return
		}

		role := shout.RoleUser
		switch {
		case hasClassDeep(sel, "autemo_admin_color"):
			role = shout.RoleAdmin
		case hasClassDeep(sel, "autemo_color"):
			role = shout.RoleModerator
		}

		users = append(users, &shout.Author{
			Name:      name,
			AvatarURL: sel.Find("img").First().AttrOr("src", ""),
			Role:      role,
		})
	})

	c.logger.Debug("Online users fetched", "count", len(users))
	return users, nil
}
