package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// ValidateClient sends requests to the external validation service for
// family-specific checking before dispatch. The service may rewrite the
// request or reject it with an _error payload.
type ValidateClient struct {
	socket string
}

// NewValidateClient returns a client for the validation service at the
// given unix socket path.
func NewValidateClient(socketPath string) *ValidateClient {
	return &ValidateClient{socket: socketPath}
}

// Validate sends the request data as one length-prefixed JSON frame and
// returns the service's (possibly rewritten) request object. A reply with
// an _error key is the service rejecting the request; the caller decides
// the status code.
func (c *ValidateClient) Validate(ctx context.Context, reqData map[string]any) (map[string]any, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return nil, fmt.Errorf("hooks: validation service: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	payload, err := json.Marshal(reqData)
	if err != nil {
		return nil, fmt.Errorf("hooks: encode validation request: %w", err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return nil, err
	}

	reply, err := readFrame(conn)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(reply, &result); err != nil {
		return nil, fmt.Errorf("hooks: decode validation reply: %w", err)
	}

	return result, nil
}
