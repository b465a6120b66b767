package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *stubSender) Send(_ string, data []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, data)
	s.mu.Unlock()
	return nil
}

func TestPool_RegisterAndSend(t *testing.T) {
	pool := NewPool(testLogger())
	sender := &stubSender{}
	pool.Register("10.0.0.1:5060", sender)

	require.True(t, pool.ConnectedTo("10.0.0.1:5060"))
	require.NoError(t, pool.SendTo("10.0.0.1:5060", []byte{0x01}))
	assert.Len(t, sender.sent, 1)
}

func TestPool_UnknownAddr(t *testing.T) {
	pool := NewPool(testLogger())
	err := pool.SendTo("10.0.0.9:1", []byte{0x01})
	assert.ErrorIs(t, err, ErrUnknownAddr)
	assert.False(t, pool.ConnectedTo("10.0.0.9:1"))
}

func TestPool_LastRegistrationWins(t *testing.T) {
	pool := NewPool(testLogger())
	old, fresh := &stubSender{}, &stubSender{}
	pool.Register("10.0.0.1:5060", old)
	pool.Register("10.0.0.1:5060", fresh)

	require.NoError(t, pool.SendTo("10.0.0.1:5060", []byte{0x01}))
	assert.Empty(t, old.sent)
	assert.Len(t, fresh.sent, 1)
	assert.Equal(t, 1, pool.Size())
}

func TestPool_Unregister(t *testing.T) {
	pool := NewPool(testLogger())
	pool.Register("10.0.0.1:5060", &stubSender{})
	pool.Unregister("10.0.0.1:5060")
	assert.False(t, pool.ConnectedTo("10.0.0.1:5060"))
}

// receiveCollector gathers fragments delivered by a listener.
type receiveCollector struct {
	mu    sync.Mutex
	addrs []string
	data  [][]byte
}

func (r *receiveCollector) receive(addr string, data []byte) {
	r.mu.Lock()
	r.addrs = append(r.addrs, addr)
	r.data = append(r.data, data)
	r.mu.Unlock()
}

func (r *receiveCollector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *receiveCollector) joined() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, d := range r.data {
		out = append(out, d...)
	}
	return out
}

func TestTCPListener_DeliversAndReplies(t *testing.T) {
	logger := testLogger()
	pool := NewPool(logger)
	collector := &receiveCollector{}

	listener := NewTCPListener(logger, "127.0.0.1:0", pool, collector.receive)
	require.NoError(t, listener.Start(context.Background()))
	defer listener.Stop()

	conn, err := net.Dial("tcp", listener.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return collector.count() > 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("ping"), collector.joined())

	// Reply path through the pool reaches the same connection.
	remote := conn.LocalAddr().String()
	require.Eventually(t, func() bool { return pool.ConnectedTo(remote) },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, pool.SendTo(remote, []byte("pong")))

	buf := make([]byte, 16)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestTCPListener_DisconnectUnregisters(t *testing.T) {
	logger := testLogger()
	pool := NewPool(logger)
	listener := NewTCPListener(logger, "127.0.0.1:0", pool, func(string, []byte) {})
	require.NoError(t, listener.Start(context.Background()))
	defer listener.Stop()

	conn, err := net.Dial("tcp", listener.Addr())
	require.NoError(t, err)
	remote := conn.LocalAddr().String()

	require.Eventually(t, func() bool { return pool.ConnectedTo(remote) },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !pool.ConnectedTo(remote) },
		2*time.Second, 10*time.Millisecond)
}

func TestUDPListener_DeliversAndReplies(t *testing.T) {
	logger := testLogger()
	pool := NewPool(logger)
	collector := &receiveCollector{}

	listener := NewUDPListener(logger, "127.0.0.1:0", pool, collector.receive)
	require.NoError(t, listener.Start(context.Background()))
	defer listener.Stop()

	serverAddr, err := net.ResolveUDPAddr("udp", listener.Addr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, serverAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("datagram"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return collector.count() > 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("datagram"), collector.joined())

	remote := conn.LocalAddr().String()
	require.True(t, pool.ConnectedTo(remote))
	require.NoError(t, pool.SendTo(remote, []byte("reply")))

	buf := make([]byte, 16)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(buf[:n]))
}

func TestUDPListener_StopIsClean(t *testing.T) {
	logger := testLogger()
	pool := NewPool(logger)
	listener := NewUDPListener(logger, "127.0.0.1:0", pool, func(string, []byte) {})
	require.NoError(t, listener.Start(context.Background()))
	listener.Stop()
}
