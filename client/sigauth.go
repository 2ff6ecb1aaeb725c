package client

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lafkit/laf/muxhandlers"
)

func init() {
	RegisterAuthMechanism("signature", newSignatureAuth)
}

// signatureAuth signs outgoing requests with an HMAC over the method, path
// and body digest, in the profile muxhandlers.SignatureMiddleware verifies.
type signatureAuth struct {
	keyID  string
	secret []byte

	// now is stubbed in tests.
	now func() time.Time
}

func newSignatureAuth(cfg AuthConfig) (Authenticator, error) {
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, errors.New("client: signature auth requires key_id and secret_key in auth_args")
	}
	return &signatureAuth{
		keyID:  cfg.KeyID,
		secret: []byte(cfg.SecretKey),
		now:    time.Now,
	}, nil
}

func (a *signatureAuth) Apply(r *http.Request) error {
	var body []byte
	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return err
		}
		defer rc.Close()
		if body, err = io.ReadAll(rc); err != nil {
			return err
		}
	}

	digest := muxhandlers.ContentDigest(body)
	input := muxhandlers.SignatureInput(a.keyID, a.now())
	base := muxhandlers.SignatureBase(r.Method, r.URL.Path, digest, input)

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(base))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	r.Header.Set("Content-Digest", digest)
	r.Header.Set("Signature-Input", muxhandlers.SignatureLabel+"="+input)
	r.Header.Set("Signature", muxhandlers.SignatureLabel+"=:"+sig+":")
	return nil
}
