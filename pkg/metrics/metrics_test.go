package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/iberryful/tarpit/pkg/ledger"
)

type fakeStats struct {
	active   int64
	accepted uint64
}

func (f fakeStats) Active() int64    { return f.active }
func (f fakeStats) Accepted() uint64 { return f.accepted }

func testLedger() *ledger.Ledger {
	l := ledger.New()
	l.Increment(netip.MustParseAddrPort("192.0.2.1:4000"), 100)
	l.Increment(netip.MustParseAddrPort("192.0.2.2:4000"), 200)
	return l
}

func TestLedgerCollector(t *testing.T) {
	c := NewLedgerCollector(testLedger(), false)

	expected := `
# HELP tarpit_bytes_sent_total Bytes written to all peers, preamble included.
# TYPE tarpit_bytes_sent_total counter
tarpit_bytes_sent_total 300
# HELP tarpit_peers Number of distinct peer addresses that have been served.
# TYPE tarpit_peers gauge
tarpit_peers 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestLedgerCollectorPerPeer(t *testing.T) {
	c := NewLedgerCollector(testLedger(), true)
	require.Equal(t, 4, testutil.CollectAndCount(c))

	expected := `
# HELP tarpit_peer_bytes_sent_total Bytes written to a single peer address.
# TYPE tarpit_peer_bytes_sent_total counter
tarpit_peer_bytes_sent_total{peer="192.0.2.1:4000"} 100
tarpit_peer_bytes_sent_total{peer="192.0.2.2:4000"} 200
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "tarpit_peer_bytes_sent_total"))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, testLedger(), fakeStats{active: 2, accepted: 7}, false))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	for _, line := range []string{
		"tarpit_active_connections 2",
		"tarpit_accepted_connections_total 7",
		"tarpit_peers 2",
		"tarpit_bytes_sent_total 300",
	} {
		require.Contains(t, string(body), line)
	}

	// the request counter is bumped after the response has been written
	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(reg, "http_requests_total")
		return err == nil && n == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := testLedger()
	require.NoError(t, Register(reg, l, fakeStats{}, false))
	require.Error(t, Register(reg, l, fakeStats{}, false))
}

func TestRegisterNameCollision(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "tarpit_active_connections", Help: "taken"}))

	var err error
	require.NotPanics(t, func() { err = Register(reg, testLedger(), fakeStats{}, false) })
	require.Error(t, err)
}
