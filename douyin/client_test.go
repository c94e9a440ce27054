package douyin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeTransport func(*http.Request) (*http.Response, error)

func (f fakeTransport) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, body string, cookies ...*http.Cookie) *http.Response {
	h := http.Header{}
	for _, c := range cookies {
		h.Add("Set-Cookie", c.String())
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type fakeSigner struct {
	signature string
	token     string
	err       error
}

func (s fakeSigner) Sign(canonical string) (string, error) { return s.signature, s.err }

func (s fakeSigner) RequestToken(params url.Values, userAgent string) (string, error) {
	return s.token, s.err
}

func newTestClient(signer Signer, rt fakeTransport) *Client {
	return &Client{
		HTTPClient: &http.Client{Transport: rt},
		UserAgent:  DefaultUserAgent,
		Signer:     signer,
	}
}

// withTTWID routes the session-cookie bootstrap request and hands everything
// else to next.
func withTTWID(next fakeTransport) fakeTransport {
	return func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/" {
			return respond(http.StatusOK, "", &http.Cookie{Name: "ttwid", Value: "ttwid-test-value"}), nil
		}
		return next(r)
	}
}

func TestMSToken(t *testing.T) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"
	tok := MSToken()
	if len(tok) != 182 {
		t.Fatalf("len = %d, want 182", len(tok))
	}
	for i, r := range tok {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("byte %d = %q outside token alphabet", i, r)
		}
	}
	if MSToken() == tok {
		t.Error("two tokens identical; generator not random")
	}
}

func TestTTWIDCached(t *testing.T) {
	var fetches atomic.Int32
	c := newTestClient(fakeSigner{}, func(r *http.Request) (*http.Response, error) {
		fetches.Add(1)
		return respond(http.StatusOK, "", &http.Cookie{Name: "ttwid", Value: "abc"}), nil
	})

	for i := 0; i < 3; i++ {
		got, err := c.TTWID(context.Background())
		if err != nil {
			t.Fatalf("TTWID: %v", err)
		}
		if got != "abc" {
			t.Fatalf("ttwid = %q", got)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("cookie fetches = %d, want 1", n)
	}
}

func TestTTWIDMissingCookie(t *testing.T) {
	c := newTestClient(fakeSigner{}, func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, ""), nil
	})
	if _, err := c.TTWID(context.Background()); err == nil {
		t.Error("TTWID succeeded without a cookie in the response")
	}
}

func TestResolveRoomID(t *testing.T) {
	// The room page embeds the id inside escaped JSON: roomId\":\"<digits>\".
	page := `<html><script>self.__pace_f.push([1,"{\"state\":{\"roomId\":\"ignored\"}}"])` +
		`{\"roomStore\":{\"roomId\":\"x\"}}` + "\n" +
		`"roomId\":\"7383991049494104870\",\"roomTitle\"` +
		`</script></html>`

	c := newTestClient(fakeSigner{}, withTTWID(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/246286" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if !strings.Contains(r.Header.Get("Cookie"), "ttwid=ttwid-test-value") {
			t.Errorf("room page request missing ttwid cookie: %q", r.Header.Get("Cookie"))
		}
		return respond(http.StatusOK, page), nil
	}))

	id, err := c.ResolveRoomID(context.Background(), "246286")
	if err != nil {
		t.Fatalf("ResolveRoomID: %v", err)
	}
	if id != "7383991049494104870" {
		t.Errorf("room id = %q", id)
	}
}

func TestResolveRoomIDNotFound(t *testing.T) {
	c := newTestClient(fakeSigner{}, withTTWID(func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, "<html>verification challenge</html>"), nil
	}))
	_, err := c.ResolveRoomID(context.Background(), "246286")
	if !errors.Is(err, ErrRoomIDNotFound) {
		t.Errorf("err = %v, want ErrRoomIDNotFound", err)
	}
}

func TestResolveRoomIDHTTPError(t *testing.T) {
	c := newTestClient(fakeSigner{}, withTTWID(func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusNotFound, ""), nil
	}))
	if _, err := c.ResolveRoomID(context.Background(), "246286"); err == nil {
		t.Error("ResolveRoomID succeeded on HTTP 404")
	}
}
