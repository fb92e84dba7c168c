// Command receiver runs a single-stream RTP jitter buffer and TWCC
// feedback loop over a UDP socket, for manual testing and as reference
// wiring for embedding pkg/receiver in a larger media server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/jfdmsc/membrane-rtp-plugin/pkg/buffer"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/config"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/logger"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/receiver"
	"github.com/jfdmsc/membrane-rtp-plugin/pkg/rtpext"
)

var baseFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config YAML file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML, typically passed as an environment var",
		EnvVars: []string{"RTP_RECEIVER_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "listen",
		Usage: "UDP address to receive RTP on",
		Value: "0.0.0.0:5000",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address to serve Prometheus metrics on",
		Value: "0.0.0.0:9090",
	},
	&cli.UintFlag{
		Name:  "ssrc",
		Usage: "expected sender SSRC",
	},
	&cli.UintFlag{
		Name:  "twcc-ext-id",
		Usage: "negotiated header extension ID for the TWCC sequence number, 0 to disable",
		Value: 3,
	},
	&cli.DurationFlag{
		Name:  "stats-interval",
		Usage: "how often to log RFC 3550 receiver statistics, 0 to disable",
		Value: 5 * time.Second,
	},
}, config.Flags()...)

func main() {
	app := &cli.App{
		Name:  "rtp-receiver",
		Usage: "single-stream RTP jitter buffer and TWCC feedback loop",
		Flags: baseFlags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	confBody, err := configBody(c.String("config"), c.String("config-body"))
	if err != nil {
		return err
	}
	conf, err := config.New(confBody, c)
	if err != nil {
		return err
	}

	if conf.Development {
		logger.InitDevelopment(conf.LogLevel)
	} else {
		logger.InitProduction(conf.LogLevel)
	}
	log := logger.GetLogger

	// Building the API surfaces registers the TWCC extmap and routes pion's
	// internal logging through the same zap-backed logger this process
	// uses everywhere else. No PeerConnection is negotiated here, but a
	// caller embedding pkg/receiver behind real signaling shares this
	// exact MediaEngine/SettingEngine setup.
	if _, err := newWebRTCAPI(); err != nil {
		return err
	}

	conn, err := net.ListenPacket("udp", c.String("listen"))
	if err != nil {
		return err
	}
	defer conn.Close()

	go serveMetrics(c.String("metrics-addr"), log)

	twccExtID := uint8(c.Uint("twcc-ext-id"))
	if !conf.Stream.TWCCEnabled {
		twccExtID = 0
	}
	r, err := receiver.New(receiver.Config{
		StreamID:         receiver.NewStreamID(),
		SSRC:             uint32(c.Uint("ssrc")),
		ClockRate:        conf.Stream.ClockRate,
		Latency:          conf.Stream.Latency,
		TWCCExtensionID:  twccExtID,
		FeedbackInterval: conf.Stream.FeedbackInterval,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("exit requested, shutting down")
		cancel()
		r.Stop()
		conn.Close()
	}()

	go logReleases(r, log)
	go func() {
		for fb := range r.Feedback() {
			log.V(1).Info("twcc feedback", "bytes", len(fb))
		}
	}()
	if interval := c.Duration("stats-interval"); interval > 0 {
		go logStats(ctx, r, uint32(c.Uint("ssrc")), interval, log)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return nil
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.V(1).Info("dropping unparsable packet", "error", err.Error())
			continue
		}
		r.Push(pkt, time.Now())
	}
}

// newWebRTCAPI builds the webrtc.API this process would hand a signaling
// layer: TWCC's transport-wide sequence number extension registered for
// both codec kinds, and pion's own logging routed through the same
// zap-backed logr.Logger the rest of the process uses.
func newWebRTCAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := rtpext.RegisterOn(m, webrtc.RTPCodecTypeVideo, sdp.TransportCCURI); err != nil {
		return nil, err
	}
	if err := rtpext.RegisterOn(m, webrtc.RTPCodecTypeAudio, sdp.TransportCCURI); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: logger.PionLoggerFactory()}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// logStats polls the receiver's RFC 3550 statistics on interval and logs
// the upstream-facing rtcp.ReceptionReport built from them. No sender
// report has necessarily been received over this UDP-only demo path, so
// lastSR/delaySinceLastSR are reported as 0 (RFC 3550 §6.4.1's "no SR
// received yet").
func logStats(ctx context.Context, r *receiver.StreamReceiver, ssrc uint32, interval time.Duration, log logr.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Stats(func(st buffer.Stats) {
				rr := st.ReceptionReport(ssrc, 0, 0)
				log.Info("receiver report",
					"fractionLost", rr.FractionLost,
					"totalLost", rr.TotalLost,
					"highestSeq", rr.LastSequenceNumber,
					"jitter", rr.Jitter,
				)
			})
		}
	}
}

func logReleases(r *receiver.StreamReceiver, log logr.Logger) {
	for rel := range r.Released() {
		if rel.Event.Kind == buffer.EventDiscontinuity {
			log.Info("discontinuity", "index", rel.Event.Index)
			continue
		}
		log.Info("released", "index", rel.Event.Index, "seq", rel.Event.Record.WireSeq)
	}
}

func serveMetrics(addr string, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error(err, "metrics server exited")
	}
}

func configBody(configFile, inline string) (string, error) {
	if inline != "" || configFile == "" {
		return inline, nil
	}
	body, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
