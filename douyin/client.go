// Package douyin is the platform client: ttwid acquisition, room id
// resolution, the live-status probe, and signed push-endpoint assembly.
// Request signing itself is delegated to a Signer.
package douyin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"sync"
	"time"
)

const (
	hostURL = "https://www.douyin.com/"
	liveURL = "https://live.douyin.com/"

	// DefaultUserAgent is sent on every request and is part of the signing
	// input, so it must stay in sync with what the signing scripts expect.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36 Edg/140.0.0.0"

	msTokenLength = 182
)

// ErrRoomIDNotFound means the room page did not contain an internal room id.
// Recoverable: resolution is retried on the next poll cycle.
var ErrRoomIDNotFound = errors.New("douyin: room id not found in page")

// Client talks to the platform's web endpoints. Zero value is not usable;
// construct with NewClient. Safe for concurrent use.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	Signer     Signer

	mu    sync.Mutex
	ttwid string
}

// NewClient builds a client with a cookie-jar HTTP client and the stock user
// agent. The signer is required for LiveStatus and PushConnect.
func NewClient(signer Signer) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second, Jar: jar},
		UserAgent:  DefaultUserAgent,
		Signer:     signer,
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return DefaultUserAgent
}

// TTWID returns the platform session cookie, fetching it once and caching it
// for the client's lifetime.
func (c *Client) TTWID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.ttwid != "" {
		t := c.ttwid
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, liveURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent())
	resp, err := c.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch ttwid: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	for _, ck := range resp.Cookies() {
		if ck.Name == "ttwid" && ck.Value != "" {
			c.mu.Lock()
			c.ttwid = ck.Value
			c.mu.Unlock()
			return ck.Value, nil
		}
	}
	return "", fmt.Errorf("fetch ttwid: cookie absent from response")
}

// MSToken generates a fresh per-request token in the alphabet the platform
// expects.
func MSToken() string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"
	b := make([]byte, msTokenLength)
	for i := range b {
		b[i] = chars[rand.IntN(len(chars))]
	}
	return string(b)
}

var roomIDPattern = regexp.MustCompile(`roomId\\":\\"(\d+)\\"`)

// ResolveRoomID resolves a public web room id (the path segment of
// live.douyin.com/<id>) to the platform-internal room id by scraping the
// room page. Fails with ErrRoomIDNotFound when the page carries no id, which
// also happens transiently when the platform serves a challenge page.
func (c *Client) ResolveRoomID(ctx context.Context, webRID string) (string, error) {
	ttwid, err := c.TTWID(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, liveURL+webRID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Cookie", fmt.Sprintf("ttwid=%s&msToken=%s; __ac_nonce=0123407cc00a9e438deb4", ttwid, MSToken()))
	resp, err := c.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch room page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch room page: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read room page: %w", err)
	}
	m := roomIDPattern.FindSubmatch(body)
	if m == nil {
		return "", ErrRoomIDNotFound
	}
	return string(m[1]), nil
}
