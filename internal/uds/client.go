package uds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds a client call when no other deadline applies.
const DefaultTimeout = 10 * time.Second

// ErrDaemonUnreachable means nothing accepted a connection on the socket.
var ErrDaemonUnreachable = errors.New("landale daemon is not reachable")

// Client sends one command per connection to the daemon's control socket.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient returns a client for socketPath. A non-positive timeout uses
// DefaultTimeout.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{path: socketPath, timeout: timeout}
}

// Call sends command with params and decodes the result into out, which may
// be nil. A command the daemon refused comes back as an *ErrorDetail.
func (c *Client) Call(ctx context.Context, command string, params, out any) error {
	req, err := NewRequest(command, params)
	if err != nil {
		return err
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Send performs one round trip. The connection is abandoned when ctx ends or
// the client timeout passes, whichever comes first.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("%w at %s (start it with: landale up): %v", ErrDaemonUnreachable, c.path, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read %s reply: %w", req.Command, err)
	}
	return &resp, nil
}
