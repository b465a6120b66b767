package wire

import (
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoip-server/pkg/metrics"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func keepAliveFrame(t *testing.T) []byte {
	t.Helper()
	msg, err := Build(TypeKeepAlive, map[string]interface{}{
		"client_ctx":  testClientCtx,
		"public_ip":   testAddr,
		"public_port": uint32(50009),
	})
	require.NoError(t, err)
	body, err := msg.Serialize()
	require.NoError(t, err)
	raw, err := Frame(TypeKeepAlive, body)
	require.NoError(t, err)
	return raw
}

func TestPacker_SingleFragment(t *testing.T) {
	var got []Inbound
	p := NewPacker(testLogger(), func(in Inbound) { got = append(got, in) })

	p.Pack("10.0.0.1:5000", keepAliveFrame(t))

	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.1:5000", got[0].Sender)
	assert.Equal(t, TypeKeepAlive, got[0].Code)
	assert.Equal(t, testClientCtx, got[0].Msg.Token("client_ctx"))
	assert.Equal(t, 0, p.PendingSenders())
}

func TestPacker_ReassemblesFragments(t *testing.T) {
	var got []Inbound
	p := NewPacker(testLogger(), func(in Inbound) { got = append(got, in) })

	raw := keepAliveFrame(t)
	p.Pack("c1", raw[:3])
	assert.Empty(t, got)
	p.Pack("c1", raw[3:10])
	assert.Empty(t, got)
	p.Pack("c1", raw[10:])

	require.Len(t, got, 1)
	assert.Equal(t, TypeKeepAlive, got[0].Code)
}

func TestPacker_InterleavedSenders(t *testing.T) {
	var got []Inbound
	p := NewPacker(testLogger(), func(in Inbound) { got = append(got, in) })

	raw := keepAliveFrame(t)
	p.Pack("c1", raw[:5])
	p.Pack("c2", raw[:8])
	p.Pack("c1", raw[5:])
	p.Pack("c2", raw[8:])

	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].Sender)
	assert.Equal(t, "c2", got[1].Sender)
}

func TestPacker_UnknownSenderWithoutBOF(t *testing.T) {
	var got []Inbound
	p := NewPacker(testLogger(), func(in Inbound) { got = append(got, in) })

	p.Pack("stranger", []byte{0x01, 0x02, 0x03})

	assert.Empty(t, got)
	assert.Equal(t, 0, p.PendingSenders())
}

func TestPacker_FreshBOFRestartsAccumulation(t *testing.T) {
	var got []Inbound
	p := NewPacker(testLogger(), func(in Inbound) { got = append(got, in) })

	raw := keepAliveFrame(t)
	// A partial frame that will never complete, then a full fresh frame.
	p.Pack("c1", raw[:6])
	p.Pack("c1", raw)

	require.Len(t, got, 1)
	assert.Equal(t, TypeKeepAlive, got[0].Code)
	assert.Equal(t, 0, p.PendingSenders())
}

func TestPacker_MalformedCompleteFrameDropped(t *testing.T) {
	var got []Inbound
	p := NewPacker(testLogger(), func(in Inbound) { got = append(got, in) })

	raw := keepAliveFrame(t)
	raw[4] ^= 0xFF // corrupt the length field
	p.Pack("c1", raw)

	assert.Empty(t, got)
	assert.Equal(t, 0, p.PendingSenders())
}

func TestPacker_DropsAreCounted(t *testing.T) {
	metrics.Init(testLogger())
	p := NewPacker(testLogger(), func(Inbound) {})

	invalid := testutil.ToFloat64(metrics.FramesDropped.WithLabelValues("invalid_frame"))
	noStart := testutil.ToFloat64(metrics.FramesDropped.WithLabelValues("no_frame_start"))

	raw := keepAliveFrame(t)
	raw[4] ^= 0xFF
	p.Pack("c1", raw)
	p.Pack("stranger", []byte{0x01, 0x02, 0x03})

	assert.Equal(t, invalid+1,
		testutil.ToFloat64(metrics.FramesDropped.WithLabelValues("invalid_frame")))
	assert.Equal(t, noStart+1,
		testutil.ToFloat64(metrics.FramesDropped.WithLabelValues("no_frame_start")))
}

func TestPacker_UndecodableBodyDropped(t *testing.T) {
	var got []Inbound
	p := NewPacker(testLogger(), func(in Inbound) { got = append(got, in) })

	// Valid envelope, but the LoginRequest body is truncated mid-field.
	raw, err := Frame(TypeLoginRequest, []byte{0x10, 'a'})
	require.NoError(t, err)
	p.Pack("c1", raw)

	assert.Empty(t, got)
}
