package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds connection establishment
const DialTimeout = 2 * time.Second

// Client talks to a control server over its Unix socket
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	encoder *json.Encoder
}

// Dial connects to the control socket at path
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control socket %s: %w", path, err)
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one request and waits for its response
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	if err := c.encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return &resp, nil
}

// Status fetches the current run status
func (c *Client) Status(ctx context.Context) (*StatusData, error) {
	resp, err := c.Do(ctx, Request{Command: CmdStatus})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("status failed: %s", resp.Error)
	}
	var status StatusData
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("malformed status payload: %w", err)
	}
	return &status, nil
}

// Abort requests the running agent to stop
func (c *Client) Abort(ctx context.Context) error {
	resp, err := c.Do(ctx, Request{Command: CmdAbort})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("abort failed: %s", resp.Error)
	}
	return nil
}
