package ledger

import (
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func peer(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("192.0.2.1"), port)
}

func TestIncrementCreatesRecord(t *testing.T) {
	l := New()

	_, ok := l.BytesSent(peer(1))
	require.False(t, ok)

	l.Increment(peer(1), 0)
	n, ok := l.BytesSent(peer(1))
	require.True(t, ok)
	require.Zero(t, n)

	l.Increment(peer(1), 1024)
	l.Increment(peer(1), 76)
	n, _ = l.BytesSent(peer(1))
	require.Equal(t, uint64(1100), n)
}

func TestReusedAddressSharesRecord(t *testing.T) {
	l := New()
	l.Increment(peer(4000), 10)
	l.Increment(peer(4000), 5)
	l.Increment(peer(4001), 1)

	s := l.Snapshot()
	require.Equal(t, 2, s.Peers)
	require.Equal(t, uint64(16), s.Bytes)
}

func TestConcurrentIncrement(t *testing.T) {
	for _, n := range []int{1, 10, 1000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			const amount = 1024
			l := New()

			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					l.Increment(peer(1), amount)
				}()
			}
			close(start)
			wg.Wait()

			got, _ := l.BytesSent(peer(1))
			require.Equal(t, uint64(n*amount), got)
		})
	}
}

func TestSnapshotConsistency(t *testing.T) {
	const (
		writers = 16
		rounds  = 2000
	)
	l := New()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < rounds; i++ {
				// every increment is a multiple of 8 so a torn sum would show
				l.Increment(peer(uint16(r.Intn(32))), 8*uint64(1+r.Intn(4)))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var last Snapshot
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		s := l.Snapshot()
		require.GreaterOrEqual(t, s.Bytes, last.Bytes)
		require.GreaterOrEqual(t, s.Peers, last.Peers)
		require.Zero(t, s.Bytes%8)
		last = s
	}

	s := l.Snapshot()
	var sum uint64
	records := l.Records()
	for p, r := range records {
		n, ok := l.BytesSent(p)
		require.True(t, ok)
		require.Equal(t, r.BytesSent, n)
		sum += r.BytesSent
	}
	require.Equal(t, sum, s.Bytes)
	require.Equal(t, len(records), s.Peers)
	require.LessOrEqual(t, s.Peers, 32)
}

func TestRecordsIsCopy(t *testing.T) {
	l := New()
	l.Increment(peer(1), 5)

	records := l.Records()
	records[peer(1)] = Record{BytesSent: 99}

	n, _ := l.BytesSent(peer(1))
	require.Equal(t, uint64(5), n)
}

func TestPeerOf(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("::ffff:10.0.0.1"), Port: 8080}
	require.Equal(t, netip.MustParseAddrPort("10.0.0.1:8080"), PeerOf(tcp))

	udp := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 53}
	require.Equal(t, netip.MustParseAddrPort("[2001:db8::1]:53"), PeerOf(udp))

	require.False(t, PeerOf(nil).IsValid())
}
