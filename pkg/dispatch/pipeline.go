package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"snoip-server/pkg/metrics"
	"snoip-server/pkg/session"
	"snoip-server/pkg/transport"
	"snoip-server/pkg/wire"
)

// OutboundEvent is one reply or forward waiting for delivery.
type OutboundEvent struct {
	Addr string
	Msg  *wire.Message
}

// HandlerFunc processes one inbound message. Handlers emit replies through
// the pipeline; a returned error is logged and counted, never fatal.
type HandlerFunc func(in wire.Inbound) error

// Pipeline connects the listeners to the call engine: raw fragments are
// reassembled by the packer, queued, filtered against the session table and
// dispatched to per-type handlers; replies are queued the other way and
// delivered through the listener pool. One goroutine per direction plus a
// periodic expiry sweep.
type Pipeline struct {
	logger *logrus.Logger
	table  *session.Table
	pool   *transport.Pool

	inbound  *Queue[wire.Inbound]
	outbound *Queue[OutboundEvent]

	packerMu sync.Mutex
	packer   *wire.Packer

	handlers map[wire.TypeCode]HandlerFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline over the given session table and listener
// pool. Register handlers before Start.
func NewPipeline(logger *logrus.Logger, table *session.Table, pool *transport.Pool) *Pipeline {
	p := &Pipeline{
		logger:   logger,
		table:    table,
		pool:     pool,
		inbound:  NewQueue[wire.Inbound](),
		outbound: NewQueue[OutboundEvent](),
		handlers: make(map[wire.TypeCode]HandlerFunc),
	}
	p.packer = wire.NewPacker(logger, func(in wire.Inbound) {
		metrics.FrameReceived(in.Code.String())
		p.inbound.Push(in)
	})
	return p
}

// Handle registers the handler for one message type. Not safe to call after
// Start.
func (p *Pipeline) Handle(code wire.TypeCode, fn HandlerFunc) {
	p.handlers[code] = fn
}

// Receive feeds one raw fragment from a listener into the packer. Safe for
// concurrent use by multiple listeners.
func (p *Pipeline) Receive(addr string, data []byte) {
	p.packerMu.Lock()
	defer p.packerMu.Unlock()
	p.packer.Pack(addr, data)
}

// Emit queues one message for delivery.
func (p *Pipeline) Emit(addr string, msg *wire.Message) {
	p.outbound.Push(OutboundEvent{Addr: addr, Msg: msg})
}

// Start launches the dispatch, delivery and sweep loops.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(3)
	go p.inboundLoop()
	go p.outboundLoop()
	go p.sweepLoop(ctx)
	p.logger.Info("Dispatch pipeline started")
}

// Stop drains and shuts down the pipeline loops.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.inbound.Close()
	p.outbound.Close()
	p.wg.Wait()
	p.logger.Info("Dispatch pipeline stopped")
}

func (p *Pipeline) inboundLoop() {
	defer p.wg.Done()
	for {
		in, ok := p.inbound.Pop()
		if !ok {
			return
		}
		p.dispatch(in)
	}
}

// dispatch applies the session filter and runs the registered handler. A
// panicking handler is absorbed so one malformed message cannot take the
// loop down.
func (p *Pipeline) dispatch(in wire.Inbound) {
	handler, ok := p.handlers[in.Code]
	if !ok {
		metrics.MessageDiscarded("no_handler")
		p.logger.WithField("type", in.Code.String()).Debug("No handler registered, discarding")
		return
	}

	// Everything except a login request must reference a live client
	// context. ClientRTP bypasses the table entirely: its client_ctx names
	// the destination party, the relay resolves membership by call context,
	// and the media path carries no address migration and no expiry touch
	// for either side. Only the originating client of a signaling message
	// is touched after success.
	checked := in.Msg.Has("client_ctx") && in.Code != wire.TypeClientRTP
	var clientID uuid.UUID
	if checked {
		clientID = uuid.UUID(in.Msg.Token("client_ctx"))
		if _, ok := p.table.Client(clientID); !ok {
			metrics.MessageDiscarded("unknown_client")
			p.logger.WithFields(logrus.Fields{
				"type":   in.Code.String(),
				"sender": in.Sender,
			}).Debug("Discarding message for unknown client context")
			return
		}
		p.table.UpdateAddr(clientID, in.Sender)
	}

	err := p.invoke(handler, in)
	if err != nil {
		metrics.HandlerError(in.Code.String())
		p.logger.WithError(err).WithFields(logrus.Fields{
			"type":   in.Code.String(),
			"sender": in.Sender,
		}).Error("Handler failed")
		return
	}
	metrics.MessageDispatched(in.Code.String())
	if checked {
		p.table.Touch(clientID)
	}
}

func (p *Pipeline) invoke(handler HandlerFunc, in wire.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(in)
}

func (p *Pipeline) outboundLoop() {
	defer p.wg.Done()
	for {
		ev, ok := p.outbound.Pop()
		if !ok {
			return
		}
		body, err := ev.Msg.Serialize()
		if err != nil {
			metrics.SendFailed("serialize")
			p.logger.WithError(err).WithField("type", ev.Msg.Code().String()).Error("Dropping unserializable message")
			continue
		}
		frame, err := wire.Frame(ev.Msg.Code(), body)
		if err != nil {
			metrics.SendFailed("frame")
			p.logger.WithError(err).WithField("type", ev.Msg.Code().String()).Error("Dropping oversized message")
			continue
		}
		if err := p.pool.SendTo(ev.Addr, frame); err != nil {
			metrics.SendFailed("deliver")
			p.logger.WithError(err).WithFields(logrus.Fields{
				"type": ev.Msg.Code().String(),
				"addr": ev.Addr,
			}).Warn("Delivery failed, dropping message")
		}
	}
}

// sweepLoop expires idle clients on the table's expiry window and refreshes
// the gauge metrics.
func (p *Pipeline) sweepLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.table.Window())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := p.table.SweepExpired(now)
			if len(removed) > 0 {
				metrics.ClientsExpired(len(removed))
			}
			metrics.SetSessionCounts(p.table.NumClients(), p.table.NumCalls())
			metrics.SetQueueDepths(p.inbound.Len(), p.outbound.Len())
		}
	}
}
