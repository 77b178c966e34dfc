// Package client implements the client side of the kvs wire protocol.
package client

import (
	"fmt"
	"net"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
)

// Client issues requests against a kvs server. The server closes the
// connection after each response, so a Client is good for exactly one
// request; dial a fresh one per operation.
type Client struct {
	conn net.Conn
}

// Connect dials the server at addr.
func Connect(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, api.E(api.Io, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return api.E(api.Io, err)
	}
	return nil
}

// Get retrieves the value of key. The boolean is false when the server
// does not have the key.
func (c *Client) Get(key string) (string, bool, error) {
	req := api.Request{Op: api.OpGet, Key: key}

	resp, err := c.roundTrip(req)
	if err != nil {
		return "", false, err
	}

	switch resp.Status {
	case api.StatusFound:
		return resp.Value, true, nil
	case api.StatusNotFound:
		return "", false, nil
	default:
		return "", false, unexpected(req, resp)
	}
}

// Set stores value under key on the server.
func (c *Client) Set(key, value string) error {
	req := api.Request{Op: api.OpSet, Key: key, Value: value}

	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}

	switch resp.Status {
	case api.StatusOk:
		return nil
	case api.StatusNotFound:
		return api.E(api.KeyNotFound, nil)
	default:
		return unexpected(req, resp)
	}
}

// Remove deletes key on the server. It fails with KeyNotFound when the
// key is absent.
func (c *Client) Remove(key string) error {
	req := api.Request{Op: api.OpRemove, Key: key}

	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}

	switch resp.Status {
	case api.StatusOk:
		return nil
	case api.StatusNotFound:
		return api.E(api.KeyNotFound, nil)
	default:
		return unexpected(req, resp)
	}
}

func (c *Client) roundTrip(req api.Request) (api.Response, error) {
	if err := api.WriteRequest(c.conn, req); err != nil {
		return api.Response{}, err
	}
	return api.ReadResponse(c.conn)
}

// unexpected classifies a response that does not fit the request. An
// error response from the server is surfaced as a local error; anything
// else is a protocol violation.
func unexpected(req api.Request, resp api.Response) error {
	if resp.Status == api.StatusErr {
		return fmt.Errorf("server error: %s", resp.Message)
	}
	return api.Errorf(api.Protocol, "unexpected response %d to request %d", resp.Status, req.Op)
}
