package p2p

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/openziti/sdk-golang/ziti"

	"bookagent.dev/logging"
	"bookagent.dev/protocol"
)

// zitiTransport frames protocol.Message envelopes as newline-delimited JSON
// over a raw OpenZiti net.Conn. Ziti's own overlay already gives the
// connection authentication and encryption, so no additional framing
// beyond message boundaries is needed.
type zitiTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
	log    *logging.ContextLogger
}

func newZitiTransport(conn net.Conn, log *logging.ContextLogger) *zitiTransport {
	return &zitiTransport{conn: conn, reader: bufio.NewReader(conn), log: log}
}

func (t *zitiTransport) Send(ctx context.Context, msg *protocol.Message) error {
	data, err := msg.JSON()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	data = append(data, '\n')
	_, err = t.conn.Write(data)
	return err
}

func (t *zitiTransport) Receive(ctx context.Context) (*protocol.Message, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("p2p ziti read failed: %w", err)
	}
	return protocol.ParseMessage(line)
}

func (t *zitiTransport) Close() error {
	return t.conn.Close()
}

// ZitiDialer dials a named Ziti service to reach the gateway, loading its
// identity from an enrolled identity file (as produced by `ziti edge enroll`).
type ZitiDialer struct {
	IdentityFile string
	ServiceName  string
	Log          *logging.ContextLogger
}

func (d *ZitiDialer) Dial(ctx context.Context) (Transport, error) {
	zitiCtx, err := ziti.NewContextFromFile(d.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load ziti identity from %s: %w", d.IdentityFile, err)
	}

	conn, err := zitiCtx.Dial(d.ServiceName)
	if err != nil {
		zitiCtx.Close()
		return nil, fmt.Errorf("failed to dial ziti service %s: %w", d.ServiceName, err)
	}

	return newZitiTransport(conn, d.Log), nil
}

// ZitiListener hosts a Ziti service that Client connections dial into.
type ZitiListener struct {
	zitiCtx  ziti.Context
	listener net.Listener
	log      *logging.ContextLogger
}

// NewZitiListener loads identityFile and binds serviceName on the Ziti overlay.
func NewZitiListener(identityFile, serviceName string, log *logging.ContextLogger) (*ZitiListener, error) {
	zitiCtx, err := ziti.NewContextFromFile(identityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load ziti identity from %s: %w", identityFile, err)
	}

	ln, err := zitiCtx.Listen(serviceName)
	if err != nil {
		zitiCtx.Close()
		return nil, fmt.Errorf("failed to bind ziti service %s: %w", serviceName, err)
	}

	return &ZitiListener{zitiCtx: zitiCtx, listener: ln, log: log}, nil
}

func (l *ZitiListener) Accept(ctx context.Context) (Transport, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("ziti accept failed: %w", err)
	}
	return newZitiTransport(conn, l.log), nil
}

func (l *ZitiListener) Close() error {
	err := l.listener.Close()
	l.zitiCtx.Close()
	return err
}
