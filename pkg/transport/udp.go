package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// UDPListener reads datagrams and feeds them into the pipeline. Every
// datagram re-registers its source address in the pool, so replies follow
// a roaming client to its newest address.
type UDPListener struct {
	logger  *logrus.Logger
	addr    string
	pool    *Pool
	receive ReceiveFunc

	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUDPListener creates a UDP listener bound lazily at Start.
func NewUDPListener(logger *logrus.Logger, addr string, pool *Pool, receive ReceiveFunc) *UDPListener {
	return &UDPListener{
		logger:  logger,
		addr:    addr,
		pool:    pool,
		receive: receive,
	}
}

// Start binds the socket and launches the read loop.
func (l *UDPListener) Start(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	l.conn = conn

	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.readLoop(ctx)
	l.logger.WithField("addr", l.addr).Info("UDP listener started")
	return nil
}

// Addr returns the bound socket address, useful when Start was given
// port 0.
func (l *UDPListener) Addr() string {
	if l.conn == nil {
		return l.addr
	}
	return l.conn.LocalAddr().String()
}

// Stop closes the socket and waits for the read loop.
func (l *UDPListener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.wg.Wait()
	l.logger.WithField("addr", l.addr).Info("UDP listener stopped")
}

func (l *UDPListener) readLoop(ctx context.Context) {
	defer l.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.WithError(err).Warn("UDP read failed")
			continue
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		l.pool.Register(remote.String(), &udpSender{conn: l.conn})
		l.receive(remote.String(), data)
	}
}

// udpSender replies through the shared listen socket to whichever address
// the pool resolved.
type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) Send(addr string, data []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, udpAddr)
	return err
}
