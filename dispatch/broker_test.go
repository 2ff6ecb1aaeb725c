package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket feeds the broker loop through channels instead of ZeroMQ.
type fakeSocket struct {
	in  chan zmq4.Msg
	out chan zmq4.Msg
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:  make(chan zmq4.Msg, 16),
		out: make(chan zmq4.Msg, 16),
	}
}

func (s *fakeSocket) Recv() (zmq4.Msg, error) {
	return <-s.in, nil
}

func (s *fakeSocket) Send(msg zmq4.Msg) error {
	s.out <- msg
	return nil
}

func (s *fakeSocket) Close() error { return nil }

func frames(parts ...string) zmq4.Msg {
	raw := make([][]byte, len(parts))
	for i, p := range parts {
		raw[i] = []byte(p)
	}
	return zmq4.NewMsgFrom(raw...)
}

func decodeResult(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal(frame, &result))
	return result
}

func TestBrokerRouting(t *testing.T) {
	frontend := newFakeSocket()
	backend := newFakeSocket()
	broker := New(frontend, backend)

	t.Run("ready worker takes the next request", func(t *testing.T) {
		broker.handleBackend(frames("Worker-100", "", "READY").Frames)
		broker.handleFrontend(frames("client-1", "", `{"request":{}}`).Frames)

		msg := <-backend.out
		require.Len(t, msg.Frames, 5)
		assert.Equal(t, "Worker-100", string(msg.Frames[0]))
		assert.Equal(t, "client-1", string(msg.Frames[2]))
		assert.Equal(t, `{"request":{}}`, string(msg.Frames[4]))
	})

	t.Run("busy worker is skipped and reply is forwarded", func(t *testing.T) {
		// Worker-100 still holds client-1. A second idle worker gets the
		// next request instead.
		broker.handleBackend(frames("Worker-200", "", "READY").Frames)
		broker.handleFrontend(frames("client-2", "", `{"two":true}`).Frames)

		msg := <-backend.out
		assert.Equal(t, "Worker-200", string(msg.Frames[0]))

		broker.handleBackend(frames("Worker-100", "", "client-1", "", `{"resp":{"ok":true},"code":200}`).Frames)

		reply := <-frontend.out
		require.Len(t, reply.Frames, 3)
		assert.Equal(t, "client-1", string(reply.Frames[0]))
		assert.Equal(t, float64(200), decodeResult(t, reply.Frames[2])["code"])
	})

	t.Run("no idle worker answers busy", func(t *testing.T) {
		// Worker-100 is idle again; take it, then overflow.
		broker.handleFrontend(frames("client-3", "", `{}`).Frames)
		<-backend.out

		broker.handleFrontend(frames("client-4", "", `{}`).Frames)

		reply := <-frontend.out
		assert.Equal(t, "client-4", string(reply.Frames[0]))

		result := decodeResult(t, reply.Frames[2])
		assert.Equal(t, float64(503), result["code"])
		assert.Equal(t, "Try again server busy", result["resp"].(map[string]any)["status"])
	})
}

// drive pushes frames through a running broker loop.
func drive(t *testing.T, broker *Broker) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx) }()
	return cancel, done
}

func TestBrokerRunLoop(t *testing.T) {
	frontend := newFakeSocket()
	backend := newFakeSocket()
	broker := New(frontend, backend)

	cancel, done := drive(t, broker)
	defer cancel()

	// No workers yet: the first request bounces with busy. Seeing the
	// reply proves the loop is serving the frontend.
	frontend.in <- frames("client-0", "", `{}`)
	busy := <-frontend.out
	assert.Equal(t, float64(503), decodeResult(t, busy.Frames[2])["code"])

	// Backend frames are handled in order: the stray reply after READY
	// comes back out, so once it does the registration is in too.
	backend.in <- frames("Worker-1", "", "READY")
	backend.in <- frames("Worker-9", "", "client-x", "", `{"resp":null,"code":204}`)
	<-frontend.out

	frontend.in <- frames("client-1", "", `{"payload":1}`)
	msg := <-backend.out
	assert.Equal(t, "Worker-1", string(msg.Frames[0]))
	assert.Equal(t, "client-1", string(msg.Frames[2]))

	backend.in <- frames("Worker-1", "", "client-1", "", `{"resp":null,"code":204}`)
	reply := <-frontend.out
	assert.Equal(t, "client-1", string(reply.Frames[0]))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBrokerWorkerDeath(t *testing.T) {
	frontend := newFakeSocket()
	backend := newFakeSocket()
	pool := NewPool("/bin/false", "/tmp", 0, nil)
	broker := New(frontend, backend, WithPool(pool))

	// Worker-77 takes a request, then dies holding it. The cancelled
	// context keeps the respawn from actually running a process.
	broker.handleBackend(frames("Worker-77", "", "READY").Frames)
	broker.handleFrontend(frames("client-9", "", `{}`).Frames)
	<-backend.out

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	broker.handleDeath(ctx, Death{PID: 77})

	reply := <-frontend.out
	assert.Equal(t, "client-9", string(reply.Frames[0]))

	result := decodeResult(t, reply.Frames[2])
	assert.Equal(t, float64(500), result["code"])
	assert.Equal(t, "internal server error", result["resp"].(map[string]any)["status"])

	// The dead worker is gone: the next request has nobody to serve it.
	broker.handleFrontend(frames("client-10", "", `{}`).Frames)
	busy := <-frontend.out
	assert.Equal(t, float64(503), decodeResult(t, busy.Frames[2])["code"])
}

func TestBrokerIdleWorkerDeath(t *testing.T) {
	frontend := newFakeSocket()
	backend := newFakeSocket()
	pool := NewPool("/bin/false", "/tmp", 0, nil)
	broker := New(frontend, backend, WithPool(pool))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	broker.handleBackend(frames("Worker-5", "", "READY").Frames)
	broker.handleDeath(ctx, Death{PID: 5})

	// No client reply is synthesized for an idle worker.
	select {
	case msg := <-frontend.out:
		t.Fatalf("unexpected frontend send: %v", msg.Frames)
	default:
	}
}

func TestPoolEnv(t *testing.T) {
	pool := NewPool("worker", "/srv/addressbook", 4, nil)
	pool.WorkerSocket = "ipc://@backend.ipc"
	pool.Deployment = "prod"
	pool.JournalSock = "/run/journal.sock"

	env := pool.workerEnv()

	assert.Contains(t, env, "WORKER_SOCKET=ipc://@backend.ipc")
	assert.Contains(t, env, "DEPLOYMENT=prod")
	assert.Contains(t, env, "JOURNAL_SOCK=/run/journal.sock")
	assert.NotContains(t, env, "NOTIFICATION_SOCK=")
}
