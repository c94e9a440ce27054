package douyin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestPushConnect(t *testing.T) {
	c := newTestClient(fakeSigner{signature: "sig/abc+def"}, withTTWID(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request %q", r.URL)
		return respond(http.StatusOK, ""), nil
	}))

	wss, header, err := c.PushConnect(context.Background(), "7383991049494104870")
	if err != nil {
		t.Fatalf("PushConnect: %v", err)
	}
	if !strings.HasPrefix(wss, "wss://") {
		t.Errorf("url = %q", wss)
	}
	if !strings.Contains(wss, "room_id=7383991049494104870") {
		t.Error("room id missing from push url")
	}
	if !strings.HasSuffix(wss, "&signature=sig%2Fabc%2Bdef") {
		t.Errorf("signature suffix missing or unescaped: %q", wss[len(wss)-40:])
	}
	if got := header.Get("Cookie"); got != "ttwid=ttwid-test-value" {
		t.Errorf("cookie header = %q", got)
	}
	if header.Get("User-Agent") == "" {
		t.Error("user agent header missing")
	}
}

func TestPushConnectSignerFailure(t *testing.T) {
	boom := errors.New("node missing")
	c := newTestClient(fakeSigner{err: boom}, withTTWID(func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, ""), nil
	}))
	if _, _, err := c.PushConnect(context.Background(), "1"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want signer failure", err)
	}
}

func TestPushConnectTTWIDFailure(t *testing.T) {
	c := newTestClient(fakeSigner{signature: "s"}, func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, ""), nil // no ttwid cookie
	})
	if _, _, err := c.PushConnect(context.Background(), "1"); err == nil {
		t.Error("PushConnect succeeded without a session cookie")
	}
}
