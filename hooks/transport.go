package hooks

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// httpClient returns an HTTP client whose every request is carried over the
// given unix-domain socket. The request URL host is ignored by the dialer.
func httpClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}
}

// writeFrame writes one length-prefixed frame: a big-endian uint32 length
// followed by the payload.
func writeFrame(w io.Writer, payload []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))

	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("hooks: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("hooks: write frame payload: %w", err)
	}

	return nil
}

// maxFrameSize bounds the length a peer may declare for one frame, so a
// corrupt prefix cannot demand a multi-gigabyte allocation.
const maxFrameSize = 16 << 20

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, fmt.Errorf("hooks: read frame length: %w", err)
	}

	size := binary.BigEndian.Uint32(length[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("hooks: frame length %d exceeds %d", size, maxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("hooks: read frame payload: %w", err)
	}

	return payload, nil
}
