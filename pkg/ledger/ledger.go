// Package ledger keeps the number of bytes sent to every peer that has ever
// connected. Records are keyed by remote address and are never evicted, so a
// peer reconnecting from the same address and port continues its old record.
package ledger

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

type Record struct {
	BytesSent uint64
}

// Snapshot is a point in time aggregate of a Ledger.
type Snapshot struct {
	Peers int
	Bytes uint64
	Taken time.Time
}

// Ledger is safe for concurrent use. Share it by pointer.
type Ledger struct {
	mu      sync.RWMutex
	records map[netip.AddrPort]*Record
}

func New() *Ledger {
	return &Ledger{
		records: map[netip.AddrPort]*Record{},
	}
}

// Increment adds n to the record of peer, creating it first if needed.
func (l *Ledger) Increment(peer netip.AddrPort, n uint64) {
	l.mu.Lock()
	r, ok := l.records[peer]
	if !ok {
		r = &Record{}
		l.records[peer] = r
	}
	r.BytesSent += n
	l.mu.Unlock()
}

func (l *Ledger) BytesSent(peer netip.AddrPort) (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[peer]
	if !ok {
		return 0, false
	}
	return r.BytesSent, true
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{
		Peers: len(l.records),
		Taken: time.Now(),
	}
	for _, r := range l.records {
		s.Bytes += r.BytesSent
	}
	return s
}

// Records returns a copy of every record.
func (l *Ledger) Records() map[netip.AddrPort]Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	res := make(map[netip.AddrPort]Record, len(l.records))
	for peer, r := range l.records {
		res[peer] = *r
	}
	return res
}

// PeerOf turns a connection's remote address into a ledger key. IPv4 peers
// reaching a dual stack listener are unmapped so they key the same way as on
// an IPv4 listener.
func PeerOf(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.TCPAddr:
		ap = a.AddrPort()
	case nil:
		return ap
	default:
		ap, _ = netip.ParseAddrPort(a.String())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
