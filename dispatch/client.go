package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-zeromq/zmq4"

	"github.com/lafkit/laf/request"
)

// Client sends request envelopes to the broker frontend and decodes the
// worker's result. Each call uses a fresh REQ socket with its own identity:
// a lost worker can never wedge the gateway's send/recv cycle, and
// concurrent gateway goroutines never collide at the frontend ROUTER.
type Client struct {
	url string
}

// NewClient returns a dispatch client for the broker frontend endpoint.
func NewClient(frontendURL string) *Client {
	return &Client{url: frontendURL}
}

// Do sends one envelope and waits for the result.
func (c *Client) Do(ctx context.Context, env *request.Envelope) (*request.Result, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode envelope: %w", err)
	}

	id := zmq4.SocketIdentity(fmt.Sprintf("client-%d-%s", os.Getpid(), request.NewID()))
	sock := zmq4.NewReq(ctx, zmq4.WithID(id))
	defer sock.Close()

	if err := sock.Dial(c.url); err != nil {
		return nil, fmt.Errorf("dispatch: dial broker %s: %w", c.url, err)
	}
	if err := sock.Send(zmq4.NewMsg(payload)); err != nil {
		return nil, fmt.Errorf("dispatch: send request: %w", err)
	}

	reply, err := sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("dispatch: recv result: %w", err)
	}

	var result request.Result
	if err := json.Unmarshal(reply.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("dispatch: decode result: %w", err)
	}

	return &result, nil
}
