package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/request"
)

// newUnixHTTPServer serves an HTTP handler on a fresh unix socket and
// returns the socket path.
func newUnixHTTPServer(t *testing.T, handler http.Handler) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "svc.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return path
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeFrame(&buf, []byte(`{"a":1}`)))
	require.NoError(t, writeFrame(&buf, []byte{}))

	first, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))

	second, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, second)

	_, err = readFrame(&buf)
	assert.Error(t, err)
}

func TestReadFrameLengthCap(t *testing.T) {
	// A corrupt length prefix far beyond the cap must fail before any
	// payload allocation, not demand gigabytes.
	buf := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := readFrame(buf)
	assert.ErrorContains(t, err, "exceeds")
}

func TestAuthorize(t *testing.T) {
	t.Run("posts to user lone verb and returns the decision", func(t *testing.T) {
		var gotPath string
		var gotBody authRequest

		sock := newUnixHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(map[string]any{"authorized": true, "role": "admin"})
		}))

		req := request.New(request.Request{
			Lone: "contact",
			Verb: "create",
			User: "alice@EXAMPLE.COM",
		})

		decision, err := NewAuthClient(sock).Authorize(context.Background(), req, "1")

		require.NoError(t, err)
		assert.Equal(t, "/alice/contact/create", gotPath)
		assert.Equal(t, "1", gotBody.Version)
		assert.Equal(t, "contact", gotBody.Req.Lone)
		assert.True(t, Authorized(decision))
	})

	t.Run("obo variant hits the obo path", func(t *testing.T) {
		var gotPath string
		sock := newUnixHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			json.NewEncoder(w).Encode(map[string]any{"authorized": true})
		}))

		req := request.New(request.Request{Lone: "contact", Verb: "get", User: "alice", OBO: "bob"})

		_, err := NewAuthClient(sock).OBOAuthorize(context.Background(), req, "1")

		require.NoError(t, err)
		assert.Equal(t, "/obo/alice/contact/get", gotPath)
	})

	t.Run("non-200 reply is a service error", func(t *testing.T) {
		sock := newUnixHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{"message": "not today"})
		}))

		req := request.New(request.Request{Lone: "contact", Verb: "get", User: "alice"})

		_, err := NewAuthClient(sock).Authorize(context.Background(), req, "1")

		var serr *ServiceError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, http.StatusForbidden, serr.Code)
		assert.Equal(t, "not today", serr.Message)
	})

	t.Run("denied decision is not an error", func(t *testing.T) {
		sock := newUnixHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"authorized": false})
		}))

		req := request.New(request.Request{Lone: "contact", Verb: "get", User: "alice"})

		decision, err := NewAuthClient(sock).Authorize(context.Background(), req, "1")

		require.NoError(t, err)
		assert.False(t, Authorized(decision))
	})
}

func TestBareUser(t *testing.T) {
	assert.Equal(t, "alice", BareUser("alice@EXAMPLE.COM"))
	assert.Equal(t, "alice", BareUser("alice"))
}

func TestValidate(t *testing.T) {
	newService := func(t *testing.T, reply map[string]any) string {
		t.Helper()

		path := filepath.Join(t.TempDir(), "validate.sock")
		ln, err := net.Listen("unix", path)
		require.NoError(t, err)
		t.Cleanup(func() { ln.Close() })

		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()

			if _, err := readFrame(conn); err != nil {
				return
			}
			body, _ := json.Marshal(reply)
			writeFrame(conn, body)
		}()

		return path
	}

	t.Run("returns the rewritten request", func(t *testing.T) {
		sock := newService(t, map[string]any{"lone": "contact", "verb": "create", "extra": true})

		result, err := NewValidateClient(sock).Validate(context.Background(), map[string]any{"lone": "contact"})

		require.NoError(t, err)
		assert.Equal(t, true, result["extra"])
	})

	t.Run("rejection carries the _error payload", func(t *testing.T) {
		sock := newService(t, map[string]any{"_error": "bad zone name"})

		result, err := NewValidateClient(sock).Validate(context.Background(), map[string]any{})

		require.NoError(t, err)
		assert.Equal(t, "bad zone name", result["_error"])
	})

	t.Run("unreachable service is an error", func(t *testing.T) {
		_, err := NewValidateClient(filepath.Join(t.TempDir(), "nosock")).
			Validate(context.Background(), map[string]any{})
		assert.Error(t, err)
	})
}

func TestJournalEntry(t *testing.T) {
	cfg := &family.Config{Family: "addressbook", Deployment: "prod"}
	req := request.New(request.Request{
		Lone: "contact",
		Verb: "create",
		PK:   "alice",
		User: "bootstrap",
		OBO:  "alice",
		Role: "admin",
		CM:   "CM-7",
	})

	entry := NewEntry(req, cfg, "begin", map[string]any{"name": "alice"})

	assert.Equal(t, "bootstrap", entry.AuthUserID)
	assert.Equal(t, "alice", entry.UserID)
	assert.Equal(t, req.RqID, entry.RequestID)
	assert.Equal(t, req.TxID, entry.TransactionID)
	assert.Equal(t, "begin", entry.Step)
	assert.Equal(t, "addressbook/prod", entry.LoneFam)
	assert.Equal(t, "addressbook/contact", entry.Lone)
	assert.Equal(t, "CM-7", entry.CM)
	assert.NotEmpty(t, entry.Date)
}

func TestJournalClient(t *testing.T) {
	t.Run("write posts to rqid and step", func(t *testing.T) {
		var gotPath string
		var gotEntry Entry

		sock := newUnixHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &gotEntry)
			w.WriteHeader(http.StatusOK)
		}))

		entry := &Entry{RequestID: "rq-1", Step: "commit", Verb: "create"}
		require.NoError(t, NewJournalClient(sock).Write(context.Background(), entry))

		assert.Equal(t, "/rq-1/commit", gotPath)
		assert.Equal(t, "create", gotEntry.Verb)
	})

	t.Run("status in progress", func(t *testing.T) {
		sock := newUnixHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusProcessing)
		}))

		status, code, err := NewJournalClient(sock).Status(context.Background(), "rq-1")

		require.NoError(t, err)
		assert.Equal(t, http.StatusProcessing, code)
		assert.Equal(t, "Task in progress", status)
	})

	t.Run("terminal status", func(t *testing.T) {
		sock := newUnixHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/rq-1", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"done": true}})
		}))

		status, code, err := NewJournalClient(sock).Status(context.Background(), "rq-1")

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]any{"done": true}, status)
	})
}

func TestPublish(t *testing.T) {
	t.Run("frames txid plus json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notify.sock")
		ln, err := net.Listen("unix", path)
		require.NoError(t, err)
		defer ln.Close()

		frames := make(chan []byte, 1)
		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			frame, err := readFrame(conn)
			if err == nil {
				frames <- frame
			}
		}()

		txid := "6f1ed002-ab5c-4b0d-9ae4-9d2f00000001"
		Publish(path, txid, map[string]any{"progress": "50%"})

		select {
		case frame := <-frames:
			assert.Equal(t, txid, string(frame[:txidLen]))
			assert.JSONEq(t, `{"progress":"50%"}`, string(frame[txidLen:]))
		case <-time.After(time.Second):
			t.Fatal("no frame received")
		}
	})

	t.Run("missing service drops silently", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Publish(filepath.Join(t.TempDir(), "nosock"), "tx", "msg")
		})
		assert.NotPanics(t, func() {
			Publish("", "tx", "msg")
		})
	})
}

func TestSubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	mine := "6f1ed002-ab5c-4b0d-9ae4-9d2f00000001"
	other := "00000000-0000-0000-0000-000000000000"

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		writeFrame(conn, append([]byte(other), []byte(`"not yours"`)...))
		writeFrame(conn, append([]byte(mine), []byte(`{"step":"done"}`)...))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	messages, err := Subscribe(ctx, path, mine)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, map[string]any{"step": "done"}, msg)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}
