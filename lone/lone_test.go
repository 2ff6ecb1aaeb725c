package lone

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lafkit/laf/request"
)

func TestReply(t *testing.T) {
	t.Run("ok with payload is 200", func(t *testing.T) {
		r := Ok(map[string]any{"name": "alice"})

		assert.Equal(t, http.StatusOK, r.Code)
		assert.False(t, r.Aborted)
	})

	t.Run("ok with nil payload is 204", func(t *testing.T) {
		r := Ok(nil)

		assert.Equal(t, http.StatusNoContent, r.Code)
		assert.Nil(t, r.Value)
	})

	t.Run("fail keeps the chosen code and aborts", func(t *testing.T) {
		r := Fail(map[string]any{"_error": "conflict"}, http.StatusConflict)

		assert.Equal(t, http.StatusConflict, r.Code)
		assert.True(t, r.Aborted)
	})

	t.Run("error is 500 with the message", func(t *testing.T) {
		r := Error(errors.New("backend gone"))

		assert.Equal(t, http.StatusInternalServerError, r.Code)
		assert.Equal(t, "backend gone", r.Value)
		assert.True(t, r.Aborted)
	})
}

func TestOperationID(t *testing.T) {
	tests := []struct {
		name string
		req  request.Request
		want string
	}{
		{name: "plain verb", req: request.Request{Verb: "get"}, want: "get"},
		{name: "default subhandler is ignored", req: request.Request{Verb: "get", Subhandler: "default"}, want: "get"},
		{name: "subhandler suffixes the verb", req: request.Request{Verb: "get", Subhandler: "phone"}, want: "get_phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OperationID(&tt.req))
		})
	}
}

func TestLoneDispatch(t *testing.T) {
	echo := HandlerFunc(func(_ context.Context, req *request.Request) Reply {
		return Ok(map[string]any{"pk": req.PK})
	})

	l := New("contact").
		HandleFunc("get", echo, Doc("Fetch one contact.")).
		HandleFunc("get_phone", echo).
		HandleFunc("create", echo, Journaled(), LongRunning())

	t.Run("resolves the verb handler", func(t *testing.T) {
		op, err := l.Operation(&request.Request{Lone: "contact", Verb: "get"})

		require.NoError(t, err)
		reply := op.Handler.Serve(context.Background(), &request.Request{PK: "alice"})
		assert.Equal(t, map[string]any{"pk": "alice"}, reply.Value)
	})

	t.Run("resolves the subhandler", func(t *testing.T) {
		op, err := l.Operation(&request.Request{Verb: "get", Subhandler: "phone"})

		require.NoError(t, err)
		assert.NotNil(t, op.Handler)
	})

	t.Run("annotations stick", func(t *testing.T) {
		op, err := l.Operation(&request.Request{Verb: "create"})

		require.NoError(t, err)
		assert.True(t, op.Journaled)
		assert.True(t, op.LongRunning)
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, err := l.Operation(&request.Request{Verb: "destroy"})
		assert.Error(t, err)
	})

	t.Run("help lists operations with docs", func(t *testing.T) {
		help := l.Help()

		assert.Contains(t, help, "Lone Documentation: contact")
		assert.Contains(t, help, "get_phone")
		assert.Contains(t, help, "Fetch one contact.")
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(New("contact"), New("group"))

	l, err := reg.Lookup("contact")
	require.NoError(t, err)
	assert.Equal(t, "contact", l.Name())

	_, err = reg.Lookup("nosuch")
	assert.Error(t, err)
}

func TestNotify(t *testing.T) {
	t.Run("delivers to the installed notifier", func(t *testing.T) {
		var got []any
		ctx := WithNotifier(context.Background(), func(msg any) {
			got = append(got, msg)
		})

		Notify(ctx, "halfway")
		Notify(ctx, "done")

		assert.Equal(t, []any{"halfway", "done"}, got)
	})

	t.Run("no notifier is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Notify(context.Background(), "dropped")
		})
	})
}
