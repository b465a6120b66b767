package wire

import (
	"github.com/sirupsen/logrus"

	"snoip-server/pkg/metrics"
)

// Inbound is one fully reassembled, decoded message together with the
// address it arrived from. It is what the packer hands to the dispatch
// pipeline.
type Inbound struct {
	Sender string
	Code   TypeCode
	Msg    *Message
	Body   []byte
}

// Packer reassembles per-sender byte streams into whole frames. Fragments
// accumulate per sender until the buffer ends with EOF and validates as a
// frame; a fresh BOF-prefixed fragment always restarts accumulation, which
// is how lost fragments are tolerated. Accumulators are unbounded; bounding
// them is a known hardening gap.
//
// Packer is not safe for concurrent use; each listener feeds it through the
// pipeline's inbound path.
type Packer struct {
	logger  *logrus.Logger
	pending map[string][]byte
	emit    func(Inbound)
}

// NewPacker creates a packer that pushes completed messages into emit.
func NewPacker(logger *logrus.Logger, emit func(Inbound)) *Packer {
	return &Packer{
		logger:  logger,
		pending: make(map[string][]byte),
		emit:    emit,
	}
}

// Pack feeds one received fragment into the sender's accumulator. A
// complete valid frame is decoded and emitted; a complete-looking but
// malformed frame is dropped, not retried.
func (p *Packer) Pack(sender string, fragment []byte) {
	buf, known := p.pending[sender]
	switch {
	case HasBOF(fragment):
		// A new BOF wins, even mid-accumulation.
		buf = append([]byte(nil), fragment...)
	case !known:
		metrics.FrameDropped("no_frame_start")
		p.logger.WithFields(logrus.Fields{
			"sender": sender,
			"bytes":  len(fragment),
		}).Debug("Dropping fragment from unknown sender without frame start")
		return
	default:
		buf = append(buf, fragment...)
	}
	p.pending[sender] = buf

	if !HasEOF(buf) {
		return
	}
	delete(p.pending, sender)

	if !Valid(buf) {
		metrics.FrameDropped("invalid_frame")
		p.logger.WithFields(logrus.Fields{
			"sender": sender,
			"bytes":  len(buf),
		}).Debug("Dropping malformed frame")
		return
	}
	code, body, err := Body(buf)
	if err != nil {
		metrics.FrameDropped("bad_envelope")
		p.logger.WithError(err).WithField("sender", sender).Debug("Dropping unparsable frame")
		return
	}
	msg, err := Decode(code, body)
	if err != nil {
		metrics.FrameDropped("undecodable_body")
		p.logger.WithError(err).WithFields(logrus.Fields{
			"sender": sender,
			"type":   code.String(),
		}).Debug("Dropping undecodable message body")
		return
	}
	p.emit(Inbound{Sender: sender, Code: code, Msg: msg, Body: body})
}

// PendingSenders returns the number of senders with partial frames buffered.
func (p *Packer) PendingSenders() int {
	return len(p.pending)
}
