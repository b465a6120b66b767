package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

const readBufSize = 4096

// ReceiveFunc accepts one raw fragment from a remote address. The pipeline
// wires this to its packer intake.
type ReceiveFunc func(addr string, data []byte)

// TCPListener accepts stream connections and feeds received fragments into
// the pipeline. Each connection is registered in the pool under its remote
// address so outbound replies find their way back.
type TCPListener struct {
	logger  *logrus.Logger
	addr    string
	pool    *Pool
	receive ReceiveFunc

	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTCPListener creates a TCP listener bound lazily at Start.
func NewTCPListener(logger *logrus.Logger, addr string, pool *Pool, receive ReceiveFunc) *TCPListener {
	return &TCPListener{
		logger:  logger,
		addr:    addr,
		pool:    pool,
		receive: receive,
	}
}

// Start binds the listen socket and launches the accept loop.
func (l *TCPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln

	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.acceptLoop(ctx)
	l.logger.WithField("addr", l.addr).Info("TCP listener started")
	return nil
}

// Addr returns the bound listen address, useful when Start was given
// port 0.
func (l *TCPListener) Addr() string {
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

// Stop closes the listen socket and waits for connection goroutines.
func (l *TCPListener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.ln != nil {
		_ = l.ln.Close()
	}
	l.wg.Wait()
	l.logger.WithField("addr", l.addr).Info("TCP listener stopped")
}

func (l *TCPListener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.WithError(err).Warn("TCP accept failed")
			continue
		}
		l.wg.Add(1)
		go l.serveConn(ctx, conn)
	}
}

func (l *TCPListener) serveConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	remote := conn.RemoteAddr().String()
	l.logger.WithField("remote", remote).Debug("TCP client connected")
	l.pool.Register(remote, &tcpSender{conn: conn})

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			l.receive(remote, data)
		}
		if err != nil {
			break
		}
	}

	l.pool.Unregister(remote)
	_ = conn.Close()
	l.logger.WithField("remote", remote).Debug("TCP client disconnected")
}

// tcpSender writes replies down an accepted connection. The addr argument
// is ignored: a stream socket already is the path to its peer.
type tcpSender struct {
	conn net.Conn
	mu   sync.Mutex
}

func (s *tcpSender) Send(_ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Write(data)
	return err
}
