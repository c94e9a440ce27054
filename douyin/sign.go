package douyin

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // G501: the platform's signing scheme hashes params with md5
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Signer produces the platform's request tokens. The rest of the service
// treats both transforms as black boxes: failures surface to callers as
// session-start or probe errors, with no retry or caching policy here.
type Signer interface {
	// Sign turns the md5 of the canonical push-URL param string into the
	// websocket signature token.
	Sign(canonical string) (string, error)
	// RequestToken authorizes an HTTP API call (the a_bogus query token).
	RequestToken(params url.Values, userAgent string) (string, error)
}

// signedParamKeys is the fixed, ordered key list the platform signs for the
// push connection. Order matters; missing keys sign as empty.
var signedParamKeys = []string{
	"live_id", "aid", "version_code", "webcast_sdk_version",
	"room_id", "sub_room_id", "sub_channel_id", "did_rule",
	"user_unique_id", "device_platform", "device_type", "ac",
	"identity",
}

// CanonicalSignParams extracts the signed keys from a push URL query and
// joins them as "k=v" pairs, md5-hexed, ready for Signer.Sign.
func CanonicalSignParams(pushURL string) (string, error) {
	u, err := url.Parse(pushURL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	pairs := make([]string, 0, len(signedParamKeys))
	for _, k := range signedParamKeys {
		pairs = append(pairs, k+"="+q.Get(k))
	}
	sum := md5.Sum([]byte(strings.Join(pairs, ","))) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// ExecSigner runs the platform's own JS signing scripts through a Node
// subprocess. The scripts define get_sign (websocket signature) and get_ab
// (API request token); we append a one-line invocation and read stdout.
type ExecSigner struct {
	Node        string // node binary, default "node"
	SignScript  string // path to the script defining get_sign
	BogusScript string // path to the script defining get_ab
	Timeout     time.Duration
}

func (s *ExecSigner) node() string {
	if s.Node != "" {
		return s.Node
	}
	return "node"
}

func (s *ExecSigner) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 10 * time.Second
}

// Sign evaluates get_sign(canonical) in the sign script.
func (s *ExecSigner) Sign(canonical string) (string, error) {
	return s.eval(s.SignScript, "get_sign", canonical)
}

// RequestToken evaluates get_ab(encodedParams, userAgent) in the bogus script.
func (s *ExecSigner) RequestToken(params url.Values, userAgent string) (string, error) {
	return s.eval(s.BogusScript, "get_ab", params.Encode(), userAgent)
}

func (s *ExecSigner) eval(script, fn string, args ...string) (string, error) {
	code, err := os.ReadFile(script)
	if err != nil {
		return "", fmt.Errorf("read sign script: %w", err)
	}
	var sb strings.Builder
	sb.Write(code)
	sb.WriteString("\nconsole.log(")
	sb.WriteString(fn)
	sb.WriteString("(")
	for i := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "process.argv[%d]", i+1)
	}
	sb.WriteString("));\n")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()
	cmdArgs := append([]string{"-e", sb.String(), "--"}, args...)
	cmd := exec.CommandContext(ctx, s.node(), cmdArgs...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w (stderr: %s)", fn, err, strings.TrimSpace(errOut.String()))
	}
	tok := strings.TrimSpace(out.String())
	if tok == "" {
		return "", fmt.Errorf("%s returned empty token", fn)
	}
	return tok, nil
}
