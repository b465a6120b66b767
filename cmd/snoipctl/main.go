// snoipctl is a demo softphone for exercising a running server: it logs
// in, keeps the session alive, answers incoming calls and can place one
// outgoing call.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"snoip-server/pkg/client"
	"snoip-server/pkg/session"
	"snoip-server/pkg/wire"
)

func main() {
	var (
		server   = flag.String("server", "127.0.0.1:5061", "server address")
		user     = flag.String("user", "", "username")
		password = flag.String("pass", "", "password")
		callee   = flag.String("call", "", "place a call to this user after login")
		codecs   = flag.String("codecs", "PCMA,PCMU", "offered codecs in preference order")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if *user == "" || *password == "" {
		logger.Fatal("both -user and -pass are required")
	}

	offer, err := parseCodecs(*codecs)
	if err != nil {
		logger.WithError(err).Fatal("Bad -codecs")
	}

	c, err := client.Dial(logger, *server)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect")
	}
	defer c.Close()

	reply, err := c.Login(*user, *password, net.IPv4(127, 0, 0, 1), 5060, 5*time.Second)
	if err != nil {
		logger.WithError(err).Fatal("Login failed")
	}
	expire := time.Duration(reply.Int("ctx_expire")) * time.Second
	logger.WithFields(logrus.Fields{
		"user":   *user,
		"expire": expire,
	}).Info("Logged in")

	keepAlive := time.NewTicker(expire / 2)
	defer keepAlive.Stop()

	if *callee != "" {
		if err := c.Invite(*callee, offer); err != nil {
			logger.WithError(err).Fatal("Invite failed")
		}
		logger.WithField("callee", *callee).Info("Calling")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// peerCtx is the counterparty context media is addressed to: learned
	// from the ring or answer when calling out, derived from the caller's
	// name when answering.
	var callCtx, peerCtx [16]byte
	var inCall bool
	sequence := uint32(0)

	for {
		select {
		case <-sigCh:
			if inCall {
				_ = c.Hangup(callCtx)
			}
			_ = c.Logout()
			logger.Info("Logged out")
			return
		case <-keepAlive.C:
			if err := c.KeepAlive(net.IPv4(127, 0, 0, 1), 5060); err != nil {
				logger.WithError(err).Fatal("Keep-alive failed")
			}
		default:
		}

		msg, err := c.Next(200 * time.Millisecond)
		if err != nil {
			continue
		}
		switch msg.Code() {
		case wire.TypeKeepAliveAck:
			logger.WithField("expire", msg.Int("expire")).Debug("Keep-alive acked")

		case wire.TypeServerForwardInvite:
			callCtx = msg.Token("call_ctx")
			peerCtx = [16]byte(session.ClientCtx(msg.String("caller_name")))
			inCall = true
			logger.WithField("caller", msg.String("caller_name")).Info("Incoming call, answering")
			_ = c.InviteAck(callCtx, wire.StatusRinging, net.IPv4(127, 0, 0, 1), 5060)
			negotiated := msg.Bytes("codec_list")
			if len(negotiated) == 0 {
				logger.Warn("Invite carries no usable codec, ignoring")
				inCall = false
				continue
			}
			_ = c.Answer(callCtx, negotiated[0])

		case wire.TypeServerForwardRing:
			peerCtx = msg.Token("client_ctx")
			logger.Info("Remote side is ringing")

		case wire.TypeClientAnswer:
			callCtx = msg.Token("call_ctx")
			peerCtx = msg.Token("client_ctx")
			inCall = true
			logger.WithField("codec", wire.CodecName(msg.Byte("codec"))).Info("Call answered")
			sequence++
			_ = c.SendRTP(peerCtx, callCtx, sequence, []byte("hello from "+*user))

		case wire.TypeServerRejectInvite:
			logger.WithField("reason", msg.Short("reason")).Warn("Call rejected")

		case wire.TypeClientRTP:
			logger.WithFields(logrus.Fields{
				"seq":   msg.Int("sequence"),
				"bytes": len(msg.Bytes("rtp_bytes")),
			}).Info("Media received")

		case wire.TypeHangupRequest:
			logger.Info("Remote side hung up")
			_ = c.HangupAck(msg.Token("call_ctx"))
			inCall = false

		case wire.TypeHangupRequestAck:
			logger.Info("Hangup confirmed")
			inCall = false

		default:
			logger.WithField("type", msg.Code().String()).Debug("Unhandled message")
		}
	}
}

func parseCodecs(list string) ([]byte, error) {
	var out []byte
	for _, name := range strings.Split(list, ",") {
		id, ok := wire.CodecByName(strings.ToUpper(strings.TrimSpace(name)))
		if !ok {
			return nil, &unknownCodecError{name: name}
		}
		out = append(out, id)
	}
	return out, nil
}

type unknownCodecError struct{ name string }

func (e *unknownCodecError) Error() string { return "unknown codec " + e.name }
