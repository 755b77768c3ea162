// Package metrics exports the ledger and the server counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iberryful/tarpit/pkg/ledger"
	"github.com/iberryful/tarpit/pkg/log"
)

var (
	peersDesc = prometheus.NewDesc(
		"tarpit_peers",
		"Number of distinct peer addresses that have been served.",
		nil, nil,
	)
	bytesDesc = prometheus.NewDesc(
		"tarpit_bytes_sent_total",
		"Bytes written to all peers, preamble included.",
		nil, nil,
	)
	peerBytesDesc = prometheus.NewDesc(
		"tarpit_peer_bytes_sent_total",
		"Bytes written to a single peer address.",
		[]string{"peer"}, nil,
	)
)

// ServerStats is satisfied by *server.Server.
type ServerStats interface {
	Active() int64
	Accepted() uint64
}

type ledgerCollector struct {
	ledger  *ledger.Ledger
	perPeer bool
}

// NewLedgerCollector exposes l. With perPeer set every peer address gets its
// own series, which grows without bound just like the ledger does.
func NewLedgerCollector(l *ledger.Ledger, perPeer bool) prometheus.Collector {
	return &ledgerCollector{ledger: l, perPeer: perPeer}
}

func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- peersDesc
	ch <- bytesDesc
	if c.perPeer {
		ch <- peerBytesDesc
	}
}

func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.perPeer {
		s := c.ledger.Snapshot()
		ch <- prometheus.MustNewConstMetric(peersDesc, prometheus.GaugeValue, float64(s.Peers))
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(s.Bytes))
		return
	}

	records := c.ledger.Records()
	var total uint64
	for peer, r := range records {
		total += r.BytesSent
		ch <- prometheus.MustNewConstMetric(peerBytesDesc, prometheus.CounterValue, float64(r.BytesSent), peer.String())
	}
	ch <- prometheus.MustNewConstMetric(peersDesc, prometheus.GaugeValue, float64(len(records)))
	ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(total))
}

// Register adds the ledger collector and the connection metrics of s to reg.
func Register(reg prometheus.Registerer, l *ledger.Ledger, s ServerStats, perPeer bool) error {
	if err := reg.Register(NewLedgerCollector(l, perPeer)); err != nil {
		return err
	}

	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tarpit_active_connections",
		Help: "Connections currently being streamed to.",
	}, func() float64 { return float64(s.Active()) })
	if err := reg.Register(active); err != nil {
		return err
	}
	accepted := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "tarpit_accepted_connections_total",
		Help: "Connections accepted since start.",
	}, func() float64 { return float64(s.Accepted()) })
	return reg.Register(accepted)
}

// Handler serves reg and counts its own requests.
func Handler(reg *prometheus.Registry) http.Handler {
	return instrumentHandler(reg, "metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

func instrumentHandler(reg prometheus.Registerer, handlerName string, handler http.Handler) http.Handler {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, reg)

	requestsTotal := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, []string{"method", "code"},
	)

	return promhttp.InstrumentHandlerCounter(requestsTotal, handler)
}

// Serve exposes handler on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Serving metrics at %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
