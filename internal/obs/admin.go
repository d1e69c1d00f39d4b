package obs

import (
	"context"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/pkg/uds"
)

const _adminWriteTimeout = 2 * time.Second

// Admin serves metrics snapshots on a local unix socket. Each connection
// receives one JSON snapshot and is closed, so `nc -U` style probing
// works without a protocol.
type Admin struct {
	metrics *Metrics
	server  *uds.Server
}

func NewAdmin(metrics *Metrics, socketPath string) (*Admin, error) {
	server, err := uds.NewServer(socketPath)
	if err != nil {
		return nil, err
	}
	if err := server.Listen(); err != nil {
		return nil, errors.Wrap(err, "admin socket")
	}
	return &Admin{metrics: metrics, server: server}, nil
}

// Run accepts connections until the context ends. Call in its own
// goroutine.
func (a *Admin) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = a.server.Close()
	}()

	for {
		conn, err := a.server.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Errorf("admin: accept: %+v", err)
			return
		}
		a.serve(conn)
	}
}

func (a *Admin) serve(conn *net.UnixConn) {
	defer func() { _ = conn.Close() }()

	payload, err := sonic.ConfigFastest.Marshal(a.metrics.Snapshot())
	if err != nil {
		logs.Errorf("admin: marshal snapshot: %+v", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(_adminWriteTimeout))
	if _, err := conn.Write(payload); err != nil {
		logs.Errorf("admin: write snapshot: %+v", err)
	}
}

func (a *Admin) Close() error {
	return a.server.Close()
}
