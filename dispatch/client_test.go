package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lafkit/laf/request"
)

// TestClientConcurrentDo runs two Do calls against one real frontend ROUTER
// at the same time. The router holds both requests and answers them in
// reverse arrival order, so each reply only reaches its caller when the two
// REQ sockets present distinct peer identities.
func TestClientConcurrentDo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint := fmt.Sprintf("ipc://@laf-dispatch-client-%d", os.Getpid())
	router := zmq4.NewRouter(ctx)
	require.NoError(t, router.Listen(endpoint))
	defer router.Close()

	identities := make(chan string, 2)
	go func() {
		var msgs []zmq4.Msg
		for len(msgs) < 2 {
			msg, err := router.Recv()
			if err != nil {
				return
			}
			msgs = append(msgs, msg)
			identities <- string(msg.Frames[0])
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			msg := msgs[i]

			var env request.Envelope
			if err := json.Unmarshal(msg.Frames[len(msg.Frames)-1], &env); err != nil {
				return
			}
			reply, _ := json.Marshal(request.Result{Resp: env.Request.Verb, Code: 200})
			if err := router.Send(zmq4.NewMsgFrom(msg.Frames[0], nil, reply)); err != nil {
				return
			}
		}
	}()

	c := NewClient(endpoint)
	errs := make(chan error, 2)
	for _, verb := range []string{"slow", "fast"} {
		go func(verb string) {
			env := &request.Envelope{Request: request.New(request.Request{Lone: "contact", Verb: verb})}
			result, err := c.Do(ctx, env)
			if err != nil {
				errs <- err
				return
			}
			if result.Resp != verb {
				errs <- fmt.Errorf("request %q got reply for %v", verb, result.Resp)
				return
			}
			errs <- nil
		}(verb)
	}

	for i := 0; i < 2; i++ {
		assert.NoError(t, <-errs)
	}
	assert.NotEqual(t, <-identities, <-identities)
}
