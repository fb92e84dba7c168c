// Package stats exposes per-stream jitter buffer and TWCC accounting as
// Prometheus metrics.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/jfdmsc/membrane-rtp-plugin/pkg/buffer"
)

const namespace = "rtp"

var (
	initialized atomic.Bool

	streamLabels = []string{"stream_id"}

	receivedTotal   *prometheus.CounterVec
	totalBytes      *prometheus.CounterVec
	highestSeqNum   *prometheus.GaugeVec
	packetsLost     *prometheus.GaugeVec
	fractionLost    *prometheus.GaugeVec
	interarrivalJitter *prometheus.GaugeVec
	feedbackSent    *prometheus.CounterVec
)

func init() {
	Init()
}

// Init registers the package's collectors. Safe to call more than once;
// only the first call takes effect.
func Init() {
	if initialized.Swap(true) {
		return
	}

	receivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "packets_received_total",
	}, streamLabels)
	totalBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "bytes_received_total",
	}, streamLabels)
	highestSeqNum = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "highest_sequence_number",
	}, streamLabels)
	packetsLost = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "packets_lost",
	}, streamLabels)
	fractionLost = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "fraction_lost",
	}, streamLabels)
	interarrivalJitter = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "interarrival_jitter",
	}, streamLabels)
	feedbackSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "twcc",
		Name:      "feedback_packets_sent_total",
	}, streamLabels)

	prometheus.MustRegister(receivedTotal)
	prometheus.MustRegister(totalBytes)
	prometheus.MustRegister(highestSeqNum)
	prometheus.MustRegister(packetsLost)
	prometheus.MustRegister(fractionLost)
	prometheus.MustRegister(interarrivalJitter)
	prometheus.MustRegister(feedbackSent)
}

// Stream reports one StreamReceiver's counters under a fixed stream_id
// label. Its Observe method is called each time the actor pulls fresh
// buffer.Stats (see pkg/receiver's Stats method), and FeedbackSent each
// time a feedback packet is sent.
type Stream struct {
	streamID string

	received atomic.Uint64
	bytes    atomic.Uint64
}

// NewStream returns a Stream reporting under streamID. Init must have
// been called first.
func NewStream(streamID string) *Stream {
	return &Stream{streamID: streamID}
}

// Observe records the delta in received packets/bytes since the last
// call and republishes the latest gauge values from s.
func (m *Stream) Observe(received, bytes uint64, s buffer.Stats) {
	if d := received - m.received.Swap(received); d > 0 {
		receivedTotal.WithLabelValues(m.streamID).Add(float64(d))
	}
	if d := bytes - m.bytes.Swap(bytes); d > 0 {
		totalBytes.WithLabelValues(m.streamID).Add(float64(d))
	}
	highestSeqNum.WithLabelValues(m.streamID).Set(float64(s.HighestSeqNum))
	packetsLost.WithLabelValues(m.streamID).Set(float64(s.TotalLost))
	fractionLost.WithLabelValues(m.streamID).Set(s.FractionLost)
	interarrivalJitter.WithLabelValues(m.streamID).Set(s.InterarrivalJitter)
}

// FeedbackSent increments the count of TWCC feedback packets emitted for
// this stream.
func (m *Stream) FeedbackSent() {
	feedbackSent.WithLabelValues(m.streamID).Inc()
}

// Unregister removes this stream's label values from every collector,
// called when a StreamReceiver stops.
func (m *Stream) Unregister() {
	receivedTotal.DeleteLabelValues(m.streamID)
	totalBytes.DeleteLabelValues(m.streamID)
	highestSeqNum.DeleteLabelValues(m.streamID)
	packetsLost.DeleteLabelValues(m.streamID)
	fractionLost.DeleteLabelValues(m.streamID)
	interarrivalJitter.DeleteLabelValues(m.streamID)
	feedbackSent.DeleteLabelValues(m.streamID)
}
