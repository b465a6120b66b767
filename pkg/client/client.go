// Package client is a reference implementation of the signaling protocol's
// client side, used by the demo tool and the integration tests. It speaks
// TCP only; a production softphone would add a UDP media path.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snoip-server/pkg/wire"
)

// Client is one connected protocol client. Incoming messages are decoded on
// a background reader and handed out through Next.
type Client struct {
	logger *logrus.Logger
	conn   net.Conn

	inbox chan *wire.Message

	mu  sync.Mutex
	ctx [16]byte

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a server and starts the read loop.
func Dial(logger *logrus.Logger, addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial server: %w", err)
	}
	c := &Client{
		logger: logger,
		conn:   conn,
		inbox:  make(chan *wire.Message, 32),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Ctx returns the client context token assigned at login.
func (c *Client) Ctx() [16]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// Close tears down the connection and the read loop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	packer := wire.NewPacker(c.logger, func(in wire.Inbound) {
		select {
		case c.inbox <- in.Msg:
		case <-c.done:
		}
	})
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			packer.Pack("server", buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next server message, or an error after the timeout.
func (c *Client) Next(timeout time.Duration) (*wire.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no server message within %s", timeout)
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	}
}

func (c *Client) send(code wire.TypeCode, values map[string]interface{}) error {
	msg, err := wire.Build(code, values)
	if err != nil {
		return err
	}
	body, err := msg.Serialize()
	if err != nil {
		return err
	}
	frame, err := wire.Frame(code, body)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}

// Login authenticates and waits for the server's verdict. On success the
// assigned client context is stored for subsequent calls.
func (c *Client) Login(username, password string, localIP net.IP, localPort uint32, timeout time.Duration) (*wire.Message, error) {
	padded := make([]byte, wire.PasswordLen)
	copy(padded, password)
	err := c.send(wire.TypeLoginRequest, map[string]interface{}{
		"username":   username,
		"password":   padded,
		"local_ip":   wire.Address(localIP),
		"local_port": localPort,
	})
	if err != nil {
		return nil, err
	}

	reply, err := c.Next(timeout)
	if err != nil {
		return nil, err
	}
	switch reply.Code() {
	case wire.TypeLoginReply:
		c.mu.Lock()
		c.ctx = reply.Token("client_ctx")
		c.mu.Unlock()
		return reply, nil
	case wire.TypeShortResponse:
		return reply, fmt.Errorf("login refused: result 0x%04x", reply.Short("result"))
	case wire.TypeServerOverloaded:
		return reply, fmt.Errorf("server overloaded")
	default:
		return reply, fmt.Errorf("unexpected login reply %s", reply.Code())
	}
}

// KeepAlive refreshes the session window.
func (c *Client) KeepAlive(publicIP net.IP, publicPort uint32) error {
	return c.send(wire.TypeKeepAlive, map[string]interface{}{
		"client_ctx":  c.Ctx(),
		"public_ip":   wire.Address(publicIP),
		"public_port": publicPort,
	})
}

// Logout releases the session. The server does not acknowledge.
func (c *Client) Logout() error {
	return c.send(wire.TypeLogout, map[string]interface{}{
		"client_ctx": c.Ctx(),
	})
}

// Invite asks the server to route a call to callee, offering codecs in
// preference order.
func (c *Client) Invite(callee string, codecs []byte) error {
	return c.send(wire.TypeClientInvite, map[string]interface{}{
		"client_ctx":  c.Ctx(),
		"callee_name": callee,
		"codec_list":  codecs,
	})
}

// InviteAck acknowledges a forwarded invite, reporting this client's status
// and public media address.
func (c *Client) InviteAck(callCtx [16]byte, status byte, publicIP net.IP, publicPort uint32) error {
	return c.send(wire.TypeClientInviteAck, map[string]interface{}{
		"client_ctx":  c.Ctx(),
		"call_ctx":    callCtx,
		"status":      status,
		"public_ip":   wire.Address(publicIP),
		"public_port": publicPort,
	})
}

// Answer picks up a ringing call with the chosen codec.
func (c *Client) Answer(callCtx [16]byte, codec byte) error {
	return c.send(wire.TypeClientAnswer, map[string]interface{}{
		"client_ctx": c.Ctx(),
		"call_ctx":   callCtx,
		"codec":      codec,
	})
}

// SendRTP relays one media payload through the server. peerCtx names the
// counterparty the payload is for: the caller learns it from the ring or
// answer, the callee derives it from the invited caller's name.
func (c *Client) SendRTP(peerCtx, callCtx [16]byte, sequence uint32, payload []byte) error {
	return c.send(wire.TypeClientRTP, map[string]interface{}{
		"client_ctx": peerCtx,
		"call_ctx":   callCtx,
		"sequence":   sequence,
		"rtp_bytes":  payload,
	})
}

// Hangup starts the teardown handshake.
func (c *Client) Hangup(callCtx [16]byte) error {
	return c.send(wire.TypeHangupRequest, map[string]interface{}{
		"client_ctx": c.Ctx(),
		"call_ctx":   callCtx,
	})
}

// HangupAck completes the teardown handshake.
func (c *Client) HangupAck(callCtx [16]byte) error {
	return c.send(wire.TypeHangupRequestAck, map[string]interface{}{
		"client_ctx": c.Ctx(),
		"call_ctx":   callCtx,
	})
}
