package call

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoip-server/pkg/dispatch"
	"snoip-server/pkg/session"
	"snoip-server/pkg/transport"
	"snoip-server/pkg/userdb"
	"snoip-server/pkg/wire"
)

// frameSink is a pool sender capturing delivered frames for one peer.
type frameSink struct {
	frames chan []byte
}

func newFrameSink() *frameSink {
	return &frameSink{frames: make(chan []byte, 16)}
}

func (s *frameSink) Send(_ string, data []byte) error {
	s.frames <- data
	return nil
}

func (s *frameSink) next(t *testing.T) *wire.Message {
	t.Helper()
	select {
	case raw := <-s.frames:
		code, body, err := wire.Body(raw)
		require.NoError(t, err)
		msg, err := wire.Decode(code, body)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered in time")
		return nil
	}
}

func send(t *testing.T, p *dispatch.Pipeline, sender string, code wire.TypeCode, values map[string]interface{}) {
	t.Helper()
	msg, err := wire.Build(code, values)
	require.NoError(t, err)
	body, err := msg.Serialize()
	require.NoError(t, err)
	frame, err := wire.Frame(code, body)
	require.NoError(t, err)
	p.Receive(sender, frame)
}

// Exercises the whole signaling path through the real pipeline: two logins,
// invite, ring, answer, a media payload each way and the hangup handshake.
func TestCallFlow_EndToEnd(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	users := userdb.NewMemory()
	users.Add(userdb.User{Username: "alice", Password: "wonderland"})
	users.Add(userdb.User{Username: "bob", Password: "builder"})

	table := session.NewTable(logger, 8, time.Minute)
	pool := transport.NewPool(logger)
	records := &captureRecords{}

	aliceSink, bobSink := newFrameSink(), newFrameSink()
	pool.Register(aliceAddr, aliceSink)
	pool.Register(bobAddr, bobSink)

	pipeline := dispatch.NewPipeline(logger, table, pool)
	engine := NewEngine(logger, table, users, records,
		[]byte{wire.CodecPCMA, wire.CodecPCMU})
	engine.Register(pipeline)
	pipeline.Start(context.Background())
	defer pipeline.Stop()

	// Logins.
	send(t, pipeline, aliceAddr, wire.TypeLoginRequest, map[string]interface{}{
		"username":   "alice",
		"password":   paddedPassword("wonderland"),
		"local_ip":   wire.Address([]byte{192, 168, 1, 10}),
		"local_port": uint32(5060),
	})
	aliceReply := aliceSink.next(t)
	require.Equal(t, wire.TypeLoginReply, aliceReply.Code())
	aliceCtx := aliceReply.Token("client_ctx")

	send(t, pipeline, bobAddr, wire.TypeLoginRequest, map[string]interface{}{
		"username":   "bob",
		"password":   paddedPassword("builder"),
		"local_ip":   wire.Address([]byte{192, 168, 1, 11}),
		"local_port": uint32(5060),
	})
	bobReply := bobSink.next(t)
	require.Equal(t, wire.TypeLoginReply, bobReply.Code())
	bobCtx := bobReply.Token("client_ctx")

	// Alice invites bob.
	send(t, pipeline, aliceAddr, wire.TypeClientInvite, map[string]interface{}{
		"client_ctx":  aliceCtx,
		"callee_name": "bob",
		"codec_list":  []byte{wire.CodecPCMU, wire.CodecG723},
	})
	forward := bobSink.next(t)
	require.Equal(t, wire.TypeServerForwardInvite, forward.Code())
	assert.Equal(t, "alice", forward.String("caller_name"))
	assert.Equal(t, []byte{wire.CodecPCMU}, forward.Bytes("codec_list"))
	callCtx := forward.Token("call_ctx")

	// Bob acknowledges; alice hears ringing.
	send(t, pipeline, bobAddr, wire.TypeClientInviteAck, map[string]interface{}{
		"client_ctx":  bobCtx,
		"call_ctx":    callCtx,
		"status":      wire.StatusRinging,
		"public_ip":   wire.Address([]byte{10, 0, 0, 2}),
		"public_port": uint32(5060),
	})
	ring := aliceSink.next(t)
	require.Equal(t, wire.TypeServerForwardRing, ring.Code())
	assert.Equal(t, wire.StatusRinging, ring.Byte("status"))
	// The ring tells alice the counterparty context to address media to.
	assert.Equal(t, bobCtx, ring.Token("client_ctx"))

	// Bob answers with PCMU.
	send(t, pipeline, bobAddr, wire.TypeClientAnswer, map[string]interface{}{
		"client_ctx": bobCtx,
		"call_ctx":   callCtx,
		"codec":      wire.CodecPCMU,
	})
	answer := aliceSink.next(t)
	require.Equal(t, wire.TypeClientAnswer, answer.Code())
	assert.Equal(t, wire.CodecPCMU, answer.Byte("codec"))

	// Media both ways, each side addressing the counterparty. Bob derives
	// alice's context from the caller name the invite carried.
	send(t, pipeline, aliceAddr, wire.TypeClientRTP, map[string]interface{}{
		"client_ctx": ring.Token("client_ctx"),
		"call_ctx":   callCtx,
		"sequence":   uint32(1),
		"rtp_bytes":  []byte("hello bob"),
	})
	rtp := bobSink.next(t)
	require.Equal(t, wire.TypeClientRTP, rtp.Code())
	assert.Equal(t, "hello bob", rtp.String("rtp_bytes"))

	send(t, pipeline, bobAddr, wire.TypeClientRTP, map[string]interface{}{
		"client_ctx": [16]byte(session.ClientCtx(forward.String("caller_name"))),
		"call_ctx":   callCtx,
		"sequence":   uint32(1),
		"rtp_bytes":  []byte("hello alice"),
	})
	rtp = aliceSink.next(t)
	require.Equal(t, wire.TypeClientRTP, rtp.Code())
	assert.Equal(t, "hello alice", rtp.String("rtp_bytes"))

	// Alice hangs up; bob acks; alice gets the ack back.
	send(t, pipeline, aliceAddr, wire.TypeHangupRequest, map[string]interface{}{
		"client_ctx": aliceCtx,
		"call_ctx":   callCtx,
	})
	hangup := bobSink.next(t)
	require.Equal(t, wire.TypeHangupRequest, hangup.Code())

	send(t, pipeline, bobAddr, wire.TypeHangupRequestAck, map[string]interface{}{
		"client_ctx": bobCtx,
		"call_ctx":   callCtx,
	})
	ack := aliceSink.next(t)
	require.Equal(t, wire.TypeHangupRequestAck, ack.Code())

	assert.Equal(t, 0, table.NumCalls())
	assert.Equal(t, 2, table.NumClients())
}
