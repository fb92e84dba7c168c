// Package receiver assembles the jitter buffer, TWCC accounting, and
// feedback codec into a single-threaded per-stream actor: every mutation
// runs on one goroutine draining a channel of closures, so none of the
// wrapped state needs its own lock.
package receiver

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/jfdmsc/membrane-rtp-plugin/pkg/buffer"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/rtpext"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/stats"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/twcc"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/utils"
)

const (
	// StreamPrefix identifies a StreamReceiver's generated ID.
	StreamPrefix = "RS-"
	opsQueueSize = 256
)

// NewStreamID returns a new, globally-unique stream identifier.
func NewStreamID() string {
	return utils.NewGuid(StreamPrefix)
}

// Config configures a StreamReceiver.
type Config struct {
	StreamID string
	SSRC     uint32

	// ClockRate and Latency parameterize the jitter buffer; see
	// buffer.Config.
	ClockRate uint32
	Latency   time.Duration

	// TWCCExtensionID is the negotiated header extension ID for the
	// transport-wide sequence number (see pkg/rtpext), or 0 to disable
	// TWCC accounting for this stream.
	TWCCExtensionID uint8

	// FeedbackInterval is how often accumulated TWCC arrivals are
	// flushed into a feedback packet.
	FeedbackInterval time.Duration

	Logger logr.Logger
}

// Released is delivered for every buffer.Event the jitter buffer
// releases, in release order.
type Released struct {
	Event buffer.Event
}

// StreamReceiver owns one stream's jitter buffer and TWCC bookkeeping.
// Push and Stats enqueue work onto the actor goroutine and return
// immediately; release events are delivered on the Released channel,
// feedback packets on the Feedback channel, and statistics to the
// callback passed to Stats. Stop blocks until the final drain has run.
// A StreamReceiver must be started with Start and stopped with Stop.
type StreamReceiver struct {
	cfg Config
	log logr.Logger

	queue *utils.OpsQueue

	jb        *buffer.JitterBuffer
	twccStore *twcc.PacketInfoStore
	fbPktCnt  uint8
	senderSSRC uint32
	metrics   *stats.Stream

	released chan Released
	feedback chan rtcp.RawPacket

	ctx        context.Context
	cancel     context.CancelFunc
	timerArmed bool // actor-goroutine-only; true while an eviction timer is outstanding
}

// New constructs a StreamReceiver. It does not start the actor goroutine;
// call Start.
func New(cfg Config) (*StreamReceiver, error) {
	jb, err := buffer.NewJitterBuffer(buffer.Config{ClockRate: cfg.ClockRate, Latency: cfg.Latency})
	if err != nil {
		return nil, err
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}

	return &StreamReceiver{
		cfg:        cfg,
		log:        cfg.Logger.WithValues("streamID", cfg.StreamID, "ssrc", cfg.SSRC),
		queue:      utils.NewOpsQueue(cfg.Logger, "receiver-"+cfg.StreamID, opsQueueSize),
		jb:         jb,
		twccStore:  twcc.NewPacketInfoStore(),
		senderSSRC: rand.Uint32(),
		metrics:    stats.NewStream(cfg.StreamID),
		released:   make(chan Released, opsQueueSize),
		feedback:   make(chan rtcp.RawPacket, 16),
	}, nil
}

// Released returns the channel of ordered/discontinuity release events.
func (s *StreamReceiver) Released() <-chan Released { return s.released }

// Feedback returns the channel of encoded TWCC feedback packets.
func (s *StreamReceiver) Feedback() <-chan rtcp.RawPacket { return s.feedback }

// Start launches the actor goroutine and arms the initial latency timer
// and (if configured) the periodic TWCC feedback timer.
func (s *StreamReceiver) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	s.queue.Start()

	go s.runInitialTimer(ctx)
	if s.cfg.TWCCExtensionID != 0 && s.cfg.FeedbackInterval > 0 {
		go s.runFeedbackTimer(ctx)
	}
}

// Stop halts the actor goroutine and drains any final events.
func (s *StreamReceiver) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	s.queue.Enqueue(func() {
		for _, ev := range s.jb.EndOfStream() {
			s.emit(ev)
		}
		close(done)
	})
	<-done
	s.queue.Stop()
	s.metrics.Unregister()
	close(s.released)
	close(s.feedback)
}

// Push enqueues an arrived RTP packet for jitter-buffer and TWCC
// processing. arrivalTS is the packet's local arrival time.
func (s *StreamReceiver) Push(pkt *rtp.Packet, arrivalTS time.Time) {
	s.queue.Enqueue(func() {
		now := time.Now()
		events, _ := s.jb.Insert(pkt, arrivalTS, now)
		for _, ev := range events {
			s.emit(ev)
		}

		// A release cycle can leave the store non-empty (e.g. a gap still
		// waiting out its dwell bound) with no eviction timer outstanding,
		// if the previous cycle's timer fire drained the store to empty in
		// between. Re-arm here so bounded dwell holds even when no further
		// timer fire would otherwise be scheduled.
		if s.jb.State() == buffer.StateRunning && !s.timerArmed {
			s.armEvictionTimer(s.ctx)
		}

		if s.cfg.TWCCExtensionID != 0 {
			if sn, ok := rtpext.TransportWideCCSequenceNumber(pkt, s.cfg.TWCCExtensionID); ok {
				s.twccStore.Insert(sn, arrivalTS.UnixMicro())
			}
		}
	})
}

// Stats requests the current RFC 3550 receiver statistics, delivered
// asynchronously to fn (called on the actor goroutine).
func (s *StreamReceiver) Stats(fn func(buffer.Stats)) {
	s.queue.Enqueue(func() {
		st := s.jb.GetAndUpdateStats()
		s.metrics.Observe(s.jb.ReceivedCount(), s.jb.TotalBytes(), st)
		fn(st)
	})
}

func (s *StreamReceiver) emit(ev buffer.Event) {
	select {
	case s.released <- Released{Event: ev}:
	default:
		s.log.Info("released channel full, dropping event", "index", ev.Index)
	}
}

func (s *StreamReceiver) runInitialTimer(ctx context.Context) {
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		s.queue.Enqueue(func() {
			s.jb.EnterRunning()
			for _, ev := range s.jb.TimerFired(time.Now()) {
				s.emit(ev)
			}
			s.armEvictionTimer(ctx)
		})
	}
}

// armEvictionTimer schedules the next TimerFired call per the delay the
// jitter buffer itself reports, re-arming after every fire as long as the
// store remains non-empty. It owns s.timerArmed: every call (whether it
// actually arms a timer or not) leaves the flag correct, so callers
// outside the fire chain (Push) can check it before arming a redundant
// timer. Only ever called on the actor goroutine.
func (s *StreamReceiver) armEvictionTimer(ctx context.Context) {
	delay, ok := s.jb.NextTimerDelay(time.Now())
	if !ok {
		s.timerArmed = false
		return
	}
	s.timerArmed = true
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			s.queue.Enqueue(func() {
				for _, ev := range s.jb.TimerFired(time.Now()) {
					s.emit(ev)
				}
				s.armEvictionTimer(ctx)
			})
		}
	}()
}

func (s *StreamReceiver) runFeedbackTimer(ctx context.Context) {
	t := time.NewTicker(s.cfg.FeedbackInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.queue.Enqueue(func() {
				s.buildFeedback()
			})
		}
	}
}

func (s *StreamReceiver) buildFeedback() {
	if s.twccStore.Empty() {
		return
	}
	base, arrivals := s.twccStore.Take()

	pkt, err := twcc.Encode(s.senderSSRC, s.cfg.SSRC, s.fbPktCnt, base, arrivals)
	if err != nil {
		s.log.Error(err, "encode twcc feedback")
		return
	}
	s.fbPktCnt++
	s.metrics.FeedbackSent()

	select {
	case s.feedback <- pkt:
	default:
		s.log.Info("feedback channel full, dropping report")
	}
}
