// Package rpc exposes the status of a running audio loop over net/rpc, so a
// display in another process can poll the tic and note offsets.
package rpc

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/rpc"

	"github.com/vsariola/soundloop/engine"
)

type (
	// StatusSource is what the server reports on, usually an
	// *engine.AudioLoop.
	StatusSource interface {
		Status() engine.Status
	}

	StatusServer struct {
		source StatusSource
	}

	Client struct {
		client *rpc.Client
	}
)

func (s *StatusServer) Status(args int, reply *engine.Status) error {
	*reply = s.source.Status()
	return nil
}

// Serve answers status requests on l until l is closed. Every call gets its
// own rpc.Server, so several sources can be served in one process.
func Serve(l net.Listener, source StatusSource) error {
	server := rpc.NewServer()
	if err := server.Register(&StatusServer{source: source}); err != nil {
		return fmt.Errorf("cannot register status server: %w", err)
	}
	go func() {
		if err := http.Serve(l, server); err != nil {
			log.Printf("status server on %v stopped: %v", l.Addr(), err)
		}
	}()
	return nil
}

// Listen opens a tcp listener on address and serves source on it.
func Listen(address string, source StatusSource) (net.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("net.Listen failed: %v", err)
	}
	if err := Serve(l, source); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func Dial(address string) (*Client, error) {
	client, err := rpc.DialHTTP("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rpc.DialHTTP failed: %v", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Status() (engine.Status, error) {
	var reply engine.Status
	if err := c.client.Call("StatusServer.Status", 0, &reply); err != nil {
		return engine.Status{}, fmt.Errorf("StatusServer.Status failed: %w", err)
	}
	return reply, nil
}

func (c *Client) Close() error { return c.client.Close() }
