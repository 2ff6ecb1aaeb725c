package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lafkit/laf/request"
)

// ServiceError is a non-OK reply from a policy service, carrying the
// service's own payload and status code.
type ServiceError struct {
	Code    int
	Message any
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("hooks: service replied %d: %v", e.Code, e.Message)
}

// AuthClient asks the authorization service whether a request may proceed.
type AuthClient struct {
	socket string
	http   *http.Client
}

// NewAuthClient returns a client for the authorization service at the given
// unix socket path.
func NewAuthClient(socketPath string) *AuthClient {
	return &AuthClient{
		socket: socketPath,
		http:   httpClient(socketPath),
	}
}

// authRequest is the body posted to the authorization service.
type authRequest struct {
	Req     *request.Request `json:"req"`
	Version string           `json:"version"`
}

// Authorize posts the request to /<user>/<lone>/<verb> and returns the
// service's decision object. The realm part of the user (after '@') is
// stripped. A non-200 reply is a ServiceError carrying the service's
// message.
func (c *AuthClient) Authorize(ctx context.Context, req *request.Request, version string) (map[string]any, error) {
	return c.post(ctx, fmt.Sprintf("/%s/%s/%s", BareUser(req.User), req.Lone, req.Verb), req, version)
}

// OBOAuthorize posts the request to /obo/<user>/<lone>/<verb>, asking
// whether the caller may act on behalf of the obo target.
func (c *AuthClient) OBOAuthorize(ctx context.Context, req *request.Request, version string) (map[string]any, error) {
	return c.post(ctx, fmt.Sprintf("/obo/%s/%s/%s", BareUser(req.User), req.Lone, req.Verb), req, version)
}

func (c *AuthClient) post(ctx context.Context, path string, req *request.Request, version string) (map[string]any, error) {
	body, err := json.Marshal(authRequest{Req: req, Version: version})
	if err != nil {
		return nil, fmt.Errorf("hooks: encode authorization request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("hooks: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	reply, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("hooks: authorization service: %w", err)
	}
	defer reply.Body.Close()

	var decision map[string]any
	if err := json.NewDecoder(reply.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("hooks: decode authorization reply: %w", err)
	}

	if reply.StatusCode != http.StatusOK {
		return nil, &ServiceError{Code: reply.StatusCode, Message: decision["message"]}
	}

	return decision, nil
}

// Authorized reports whether a decision object grants the request.
func Authorized(decision map[string]any) bool {
	granted, _ := decision["authorized"].(bool)
	return granted
}

// BareUser strips the realm part of a principal: "alice@EXAMPLE.COM"
// becomes "alice".
func BareUser(user string) string {
	bare, _, _ := strings.Cut(user, "@")
	return bare
}
