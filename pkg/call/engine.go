package call

import (
	"bytes"
	"errors"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"snoip-server/pkg/cdr"
	"snoip-server/pkg/dispatch"
	"snoip-server/pkg/metrics"
	"snoip-server/pkg/session"
	"snoip-server/pkg/userdb"
	"snoip-server/pkg/wire"
)

// Emitter queues one message for delivery. The dispatch pipeline satisfies
// it; tests substitute a capture.
type Emitter interface {
	Emit(addr string, msg *wire.Message)
}

// Engine holds the signaling logic: login verification, invite routing,
// codec negotiation, media relay and call teardown. It owns no state of its
// own; everything lives in the session table.
type Engine struct {
	logger  *logrus.Logger
	table   *session.Table
	users   userdb.Directory
	records cdr.Publisher
	out     Emitter

	// codecs the relay supports, in preference order.
	codecs []byte

	// alternate is advertised in overload replies so refused clients can
	// retry elsewhere. All zeros when this is the only node.
	alternate [16]byte
}

// NewEngine creates a signaling engine over the given table, account
// directory and record publisher.
func NewEngine(logger *logrus.Logger, table *session.Table, users userdb.Directory, records cdr.Publisher, codecs []byte) *Engine {
	return &Engine{
		logger:  logger,
		table:   table,
		users:   users,
		records: records,
		codecs:  codecs,
	}
}

// SetAlternate sets the address advertised when the server is at capacity.
func (e *Engine) SetAlternate(ip net.IP) {
	e.alternate = wire.Address(ip)
}

// Register wires the engine's handlers into the pipeline and uses it as the
// reply path.
func (e *Engine) Register(p *dispatch.Pipeline) {
	e.out = p
	p.Handle(wire.TypeLoginRequest, e.handleLogin)
	p.Handle(wire.TypeLogout, e.handleLogout)
	p.Handle(wire.TypeKeepAlive, e.handleKeepAlive)
	p.Handle(wire.TypeClientInvite, e.handleInvite)
	p.Handle(wire.TypeClientInviteAck, e.handleInviteAck)
	p.Handle(wire.TypeClientAnswer, e.handleAnswer)
	p.Handle(wire.TypeClientRTP, e.handleRTP)
	p.Handle(wire.TypeHangupRequest, e.handleHangup)
	p.Handle(wire.TypeHangupRequestAck, e.handleHangupAck)
}

// reply builds and queues one outbound message. A build failure is a
// programming error in the calling handler, logged loudly and dropped.
func (e *Engine) reply(addr string, code wire.TypeCode, values map[string]interface{}) {
	msg, err := wire.Build(code, values)
	if err != nil {
		e.logger.WithError(err).WithField("type", code.String()).Error("Dropping malformed reply")
		return
	}
	e.out.Emit(addr, msg)
}

func (e *Engine) handleLogin(in wire.Inbound) error {
	username := in.Msg.String("username")
	password := string(bytes.TrimRight(in.Msg.Bytes("password"), "\x00"))

	user, err := e.users.GetUser(username)
	if err != nil || user.Password != password {
		if err != nil && !errors.Is(err, userdb.ErrNotFound) {
			e.logger.WithError(err).WithField("user", username).Error("Directory lookup failed")
		}
		e.logger.WithFields(logrus.Fields{
			"user":   username,
			"sender": in.Sender,
		}).Warn("Login refused")
		e.reply(in.Sender, wire.TypeShortResponse, map[string]interface{}{
			"client_ctx": [16]byte(session.ClientCtx(username)),
			"result":     wire.ResultLoginFailure,
		})
		return nil
	}

	client, err := e.table.AddClient(username, in.Sender, user.DefaultStatus)
	if errors.Is(err, session.ErrCapacity) {
		e.logger.WithField("user", username).Warn("Login refused, server at capacity")
		e.reply(in.Sender, wire.TypeServerOverloaded, map[string]interface{}{
			"alternate_ip": e.alternate,
		})
		return nil
	}
	if err != nil {
		return err
	}

	ip, port := splitAddr(in.Sender)
	e.logger.WithFields(logrus.Fields{
		"user":   username,
		"client": client.ID,
		"addr":   in.Sender,
	}).Info("Client logged in")
	e.reply(in.Sender, wire.TypeLoginReply, map[string]interface{}{
		"client_ctx":  [16]byte(client.ID),
		"public_ip":   ip,
		"public_port": port,
		"ctx_expire":  uint32(e.table.Window().Seconds()),
		"codec_list":  append([]byte(nil), e.codecs...),
	})
	return nil
}

func (e *Engine) handleLogout(in wire.Inbound) error {
	id := clientOf(in)
	if removed, ok := e.table.RemoveClient(id); ok {
		e.logger.WithField("user", removed.Name).Info("Client logged out")
	}
	return nil
}

func (e *Engine) handleKeepAlive(in wire.Inbound) error {
	// The pipeline refreshes the expiry after this handler returns; the
	// ack just tells the client its new window.
	e.reply(in.Sender, wire.TypeKeepAliveAck, map[string]interface{}{
		"client_ctx":   in.Msg.Token("client_ctx"),
		"expire":       uint32(e.table.Window().Seconds()),
		"refresh_flag": byte(1),
	})
	return nil
}

func (e *Engine) handleInvite(in wire.Inbound) error {
	callerID := clientOf(in)
	caller, ok := e.table.Client(callerID)
	if !ok {
		return nil
	}

	calleeName := in.Msg.String("callee_name")
	callee, ok := e.table.Client(session.ClientCtx(calleeName))
	if !ok {
		e.logger.WithFields(logrus.Fields{
			"caller": caller.Name,
			"callee": calleeName,
		}).Info("Invite refused, callee not logged in")
		e.rejectInvite(in.Sender, callerID, wire.ResultCalleeNotFound)
		return nil
	}
	if callee.Status == wire.StatusAway {
		e.rejectInvite(in.Sender, callerID, wire.ResultCalleeUnavailable)
		return nil
	}
	// A callee already paired with someone else is unavailable regardless
	// of the offer; the caller's own retransmission passes through to the
	// pairing step.
	if callee.InCall() && callee.CallID != session.CallCtx(callerID, callee.ID) {
		e.rejectInvite(in.Sender, callerID, wire.ResultCalleeUnavailable)
		return nil
	}

	matched := matchCodecs(in.Msg.Bytes("codec_list"), e.codecs)
	if len(matched) == 0 {
		e.logger.WithFields(logrus.Fields{
			"caller": caller.Name,
			"callee": callee.Name,
		}).Info("Invite refused, no common codec")
		e.rejectInvite(in.Sender, callerID, wire.ResultCodecMismatch)
		return nil
	}

	call, retransmit, err := e.table.NewCall(callerID, callee.ID)
	switch {
	case errors.Is(err, session.ErrCalleeBusy):
		e.rejectInvite(in.Sender, callerID, wire.ResultCalleeUnavailable)
		return nil
	case errors.Is(err, session.ErrCalleeGone), errors.Is(err, session.ErrCallerGone):
		e.rejectInvite(in.Sender, callerID, wire.ResultCalleeNotFound)
		return nil
	case err != nil:
		return err
	}
	if retransmit {
		e.logger.WithField("call", call.ID).Debug("Invite retransmission, forwarding again")
	} else {
		e.logger.WithFields(logrus.Fields{
			"call":   call.ID,
			"caller": caller.Name,
			"callee": callee.Name,
			"codecs": len(matched),
		}).Info("Call invite forwarded")
	}

	callerIP, callerPort := splitAddr(caller.Addr)
	e.reply(callee.Addr, wire.TypeServerForwardInvite, map[string]interface{}{
		"client_ctx":  [16]byte(callee.ID),
		"call_ctx":    [16]byte(call.ID),
		"call_type":   wire.CallViaProxy,
		"caller_name": caller.Name,
		"caller_ip":   callerIP,
		"caller_port": callerPort,
		"codec_list":  matched,
	})
	return nil
}

func (e *Engine) rejectInvite(addr string, callerID uuid.UUID, reason uint16) {
	e.reply(addr, wire.TypeServerRejectInvite, map[string]interface{}{
		"client_ctx": [16]byte(callerID),
		"reason":     reason,
	})
}

func (e *Engine) handleInviteAck(in wire.Inbound) error {
	calleeID := clientOf(in)
	callID := callOf(in)

	if _, ok := e.table.RingCall(callID); !ok {
		e.logger.WithField("call", callID).Debug("Invite ack for unknown call, dropping")
		return nil
	}
	caller, ok := e.table.OtherParty(callID, calleeID)
	if !ok {
		return nil
	}
	// The ring keeps the callee's context: it is how the caller learns
	// the counterparty identity it will address media to.
	e.reply(caller.Addr, wire.TypeServerForwardRing, map[string]interface{}{
		"client_ctx":  in.Msg.Token("client_ctx"),
		"call_ctx":    [16]byte(callID),
		"status":      in.Msg.Byte("status"),
		"public_ip":   in.Msg.Token("public_ip"),
		"public_port": in.Msg.Int("public_port"),
	})
	return nil
}

func (e *Engine) handleAnswer(in wire.Inbound) error {
	calleeID := clientOf(in)
	callID := callOf(in)

	caller, ok := e.table.OtherParty(callID, calleeID)
	if !ok {
		e.logger.WithField("call", callID).Debug("Answer for unknown call, dropping")
		return nil
	}
	codec := in.Msg.Byte("codec")
	call, ok := e.table.AnswerCall(callID, codec)
	if !ok {
		return nil
	}
	e.logger.WithFields(logrus.Fields{
		"call":  call.ID,
		"codec": wire.CodecName(codec),
	}).Info("Call answered")
	// Forwarded unchanged: the answer carries the callee's own context.
	e.out.Emit(caller.Addr, in.Msg)
	return nil
}

// handleRTP relays one media payload. The sender addresses the message to
// the counterparty: client_ctx names the destination, not the origin. The
// frame is forwarded byte-for-byte; payloads for torn-down calls are
// dropped without fuss, since hangup races media in flight.
func (e *Engine) handleRTP(in wire.Inbound) error {
	destID := clientOf(in)
	callID := callOf(in)

	call, ok := e.table.FindCall(callID)
	if !ok {
		return nil
	}
	if destID != call.Caller && destID != call.Callee {
		e.logger.WithField("call", callID).Debug("Media addressed outside the call, dropping")
		return nil
	}
	dest, ok := e.table.Client(destID)
	if !ok {
		return nil
	}
	e.out.Emit(dest.Addr, in.Msg)
	metrics.RTPRelayed(len(in.Msg.Bytes("rtp_bytes")))
	return nil
}

func (e *Engine) handleHangup(in wire.Inbound) error {
	senderID := clientOf(in)
	callID := callOf(in)

	other, ok := e.table.OtherParty(callID, senderID)
	if !ok {
		e.logger.WithField("call", callID).Debug("Hangup for unknown call, dropping")
		return nil
	}
	// Forwarded unchanged, so the counterparty sees who hung up.
	e.out.Emit(other.Addr, in.Msg)
	return nil
}

// handleHangupAck completes the hangup handshake: the counterparty is
// resolved before teardown, then the call is terminated, the ack forwarded
// to the original initiator and the call record published.
func (e *Engine) handleHangupAck(in wire.Inbound) error {
	senderID := clientOf(in)
	callID := callOf(in)

	other, forwarded := e.table.OtherParty(callID, senderID)
	ended, ok := e.table.TerminateCall(callID)
	if !ok {
		return nil
	}
	if forwarded {
		e.out.Emit(other.Addr, in.Msg)
	}
	e.logger.WithFields(logrus.Fields{
		"call":     ended.ID,
		"answered": !ended.AnswerTime.IsZero(),
	}).Info("Call torn down")
	e.publishRecord(ended)
	return nil
}

func (e *Engine) publishRecord(ended session.CallContext) {
	rec := cdr.Record{
		CallID:    ended.ID.String(),
		Caller:    e.nameOf(ended.Caller),
		Callee:    e.nameOf(ended.Callee),
		StartTime: ended.StartTime,
		EndTime:   ended.EndTime,
		Answered:  !ended.AnswerTime.IsZero(),
	}
	if rec.Answered {
		rec.AnswerTime = ended.AnswerTime
		rec.Codec = wire.CodecName(ended.Codec)
		rec.DurationSec = ended.EndTime.Sub(ended.AnswerTime).Seconds()
	}
	if err := e.records.Publish(rec); err != nil {
		e.logger.WithError(err).WithField("call", rec.CallID).Warn("Call record publish failed")
	}
}

// nameOf resolves a client's username, falling back to the context id for
// parties that already left the table.
func (e *Engine) nameOf(id uuid.UUID) string {
	if c, ok := e.table.Client(id); ok {
		return c.Name
	}
	return id.String()
}

func clientOf(in wire.Inbound) uuid.UUID {
	return uuid.UUID(in.Msg.Token("client_ctx"))
}

func callOf(in wire.Inbound) uuid.UUID {
	return uuid.UUID(in.Msg.Token("call_ctx"))
}

// matchCodecs intersects the caller's offer with the relay's supported set,
// preserving the caller's preference order.
func matchCodecs(offered, supported []byte) []byte {
	var out []byte
	for _, c := range offered {
		for _, s := range supported {
			if c == s {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// splitAddr breaks a host:port string into the wire address form. A
// malformed address yields zeros, which clients treat as "unknown".
func splitAddr(addr string) ([16]byte, uint32) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return [16]byte{}, 0
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return [16]byte{}, 0
	}
	port, _ := strconv.Atoi(portStr)
	return wire.Address(ip), uint32(port)
}
