package hooks

import (
	"context"
	"encoding/json"
	"net"
)

// txidLen is the length of the topic prefix in a notification frame:
// transaction ids are UUID strings.
const txidLen = 36

// Publish sends one status message to the notification service, addressed
// by transaction id. The frame is the txid followed by the JSON message,
// length-prefixed. Delivery is best effort: a missing or unreachable
// service drops the message silently.
func Publish(socketPath, txid string, msg any) {
	if socketPath == "" {
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return
	}
	defer conn.Close()

	writeFrame(conn, append([]byte(txid), body...))
}

// Subscribe connects to the notification service and delivers the messages
// addressed to one transaction id. The channel closes when the context is
// cancelled or the service hangs up.
func Subscribe(ctx context.Context, socketPath, txid string) (<-chan any, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, err
	}

	out := make(chan any)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()

		for {
			frame, err := readFrame(conn)
			if err != nil {
				return
			}
			if len(frame) < txidLen || string(frame[:txidLen]) != txid {
				continue
			}

			var msg any
			if err := json.Unmarshal(frame[txidLen:], &msg); err != nil {
				continue
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
