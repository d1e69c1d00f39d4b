// Package uds is the Unix domain socket transport for the local admin
// endpoint.
package uds

import (
	"net"
	"os"

	"github.com/yanun0323/errors"

	"github.com/kylebaus/Baus/pkg/exception"
)

const _network = "unix"

// Client dials the admin socket.
type Client struct {
	addr net.UnixAddr
}

func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, exception.ErrEmptySocketPath
	}
	return &Client{addr: net.UnixAddr{Name: path, Net: _network}}, nil
}

func (c *Client) Path() string { return c.addr.Name }

// Dial opens a connection to the admin socket.
func (c *Client) Dial() (*net.UnixConn, error) {
	conn, err := net.DialUnix(_network, nil, &c.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.addr.Name)
	}
	return conn, nil
}

// Server listens on the admin socket path. A stale socket file left by a
// previous run is removed before listening.
type Server struct {
	addr net.UnixAddr
	ln   *net.UnixListener
}

func NewServer(path string) (*Server, error) {
	if path == "" {
		return nil, exception.ErrEmptySocketPath
	}
	return &Server{addr: net.UnixAddr{Name: path, Net: _network}}, nil
}

func (s *Server) Path() string { return s.addr.Name }

func (s *Server) Listen() error {
	if s.ln != nil {
		return errors.Errorf("already listening on %s", s.addr.Name)
	}
	if err := removeStaleSocket(s.addr.Name); err != nil {
		return err
	}
	ln, err := net.ListenUnix(_network, &s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr.Name)
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	return nil
}

// Accept waits for the next incoming connection.
func (s *Server) Accept() (*net.UnixConn, error) {
	if s.ln == nil {
		return nil, errors.Errorf("not listening on %s", s.addr.Name)
	}
	return s.ln.AcceptUnix()
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat %s", path)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return errors.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}
