package muxhandlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lafkit/laf/mux"
)

// Signature profile shared by the middleware and the client signer: the
// covered components, the signature label and the only supported algorithm.
const (
	SignatureLabel = "laf"
	SignatureAlg   = "hmac-sha256"
)

var signatureComponents = []string{"@method", "@path", "content-digest"}

// ErrNoSignatureKeys is returned when SignatureConfig carries no keys.
var ErrNoSignatureKeys = errors.New("signature auth: at least one key must be configured")

// SignatureConfig configures the request-signature middleware.
type SignatureConfig struct {
	// Keys maps a key id to its shared secret. The key id doubles as the
	// caller identity exposed in REMOTE_USER.
	Keys map[string]string

	// MaxAge rejects signatures whose created parameter is older than this,
	// 5 minutes when zero.
	MaxAge time.Duration
}

// SignatureMiddleware returns a middleware that verifies HMAC request
// signatures in the Signature and Signature-Input headers and exposes the
// key id as the REMOTE_USER request header. The signature base covers the
// method, the path and the body digest, so a replayed signature cannot be
// pointed at another operation.
func SignatureMiddleware(cfg SignatureConfig) (mux.MiddlewareFunc, error) {
	if len(cfg.Keys) == 0 {
		return nil, ErrNoSignatureKeys
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 5 * time.Minute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID, err := verifySignature(r, cfg.Keys, maxAge)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprintf(w, `{"_error": %q}`, err.Error())
				return
			}

			r.Header.Set("REMOTE_USER", keyID)
			next.ServeHTTP(w, r)
		})
	}, nil
}

func verifySignature(r *http.Request, keys map[string]string, maxAge time.Duration) (string, error) {
	sig, err := headerItem(r.Header.Get("Signature"))
	if err != nil {
		return "", err
	}
	input, err := headerItem(r.Header.Get("Signature-Input"))
	if err != nil {
		return "", err
	}

	keyID, created, err := parseSignatureInput(input)
	if err != nil {
		return "", err
	}
	secret, ok := keys[keyID]
	if !ok {
		return "", fmt.Errorf("unknown signature key %q", keyID)
	}
	if age := time.Since(time.Unix(created, 0)); age > maxAge || age < -maxAge {
		return "", errors.New("signature expired")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	base := SignatureBase(r.Method, r.URL.Path, ContentDigest(body), input)
	want, err := base64.StdEncoding.DecodeString(strings.Trim(sig, ":"))
	if err != nil {
		return "", errors.New("undecodable signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	if !hmac.Equal(mac.Sum(nil), want) {
		return "", errors.New("signature mismatch")
	}

	return keyID, nil
}

// headerItem strips the "label=" prefix of a single-entry signature header
// and returns its value.
func headerItem(header string) (string, error) {
	if header == "" {
		return "", errors.New("request is not signed")
	}
	label, value, ok := strings.Cut(header, "=")
	if !ok || label != SignatureLabel {
		return "", errors.New("malformed signature header")
	}
	return value, nil
}

// parseSignatureInput extracts the keyid and created parameters of a
// serialized signature input:
//
//	("@method" "@path" "content-digest");created=...;alg="hmac-sha256";keyid="..."
func parseSignatureInput(input string) (keyID string, created int64, err error) {
	_, rest, ok := strings.Cut(input, ")")
	if !ok {
		return "", 0, errors.New("malformed signature input")
	}

	alg := ""
	for _, part := range strings.Split(rest, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "keyid":
			keyID = strings.Trim(value, `"`)
		case "alg":
			alg = strings.Trim(value, `"`)
		case "created":
			created, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return "", 0, errors.New("malformed created parameter")
			}
		}
	}

	if alg != SignatureAlg {
		return "", 0, fmt.Errorf("unsupported signature algorithm %q", alg)
	}
	if keyID == "" || created == 0 {
		return "", 0, errors.New("signature input misses keyid or created")
	}

	return keyID, created, nil
}

// SignatureInput serializes the signature parameters for a key at a time.
func SignatureInput(keyID string, created time.Time) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, id := range signatureComponents {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Quote(id))
	}
	b.WriteByte(')')
	fmt.Fprintf(&b, ";created=%d;alg=%q;keyid=%q", created.Unix(), SignatureAlg, keyID)
	return b.String()
}

// SignatureBase builds the signed text: one line per covered component and
// the serialized parameters last.
func SignatureBase(method, path, digest, input string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q: %s\n", "@method", method)
	fmt.Fprintf(&b, "%q: %s\n", "@path", path)
	fmt.Fprintf(&b, "%q: %s\n", "content-digest", digest)
	fmt.Fprintf(&b, "%q: %s", "@signature-params", input)
	return b.String()
}

// ContentDigest returns the sha-256 digest header value of a request body.
func ContentDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha-256=:" + base64.StdEncoding.EncodeToString(sum[:]) + ":"
}
