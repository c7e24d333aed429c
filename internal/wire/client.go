package wire

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds connecting to a peer when ctx carries no deadline.
const DialTimeout = 5 * time.Second

// Send delivers envs to the drone listening at addr over one connection.
// Delivery is best effort: there is no acknowledgement and no retry.
func Send(ctx context.Context, addr string, c Codec, envs ...*Envelope) error {
	frames := make([][]byte, 0, len(envs))
	for _, env := range envs {
		frame, err := EncodeFrame(env, c)
		if err != nil {
			return err
		}
		frames = append(frames, frame)
	}

	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	for _, frame := range frames {
		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("write %s: %w", addr, err)
		}
	}
	return nil
}
