// Package report periodically summarises a ledger in human readable form.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iberryful/tarpit/pkg/ledger"
	"github.com/iberryful/tarpit/pkg/log"
)

const DefaultInterval = time.Second

type Snapshotter interface {
	Snapshot() ledger.Snapshot
}

type Reporter struct {
	source   Snapshotter
	interval time.Duration
	last     ledger.Snapshot

	// Out receives one line per report. Lines go to the logger when nil.
	Out io.Writer
}

func New(source Snapshotter, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		source:   source,
		interval: interval,
	}
}

// Run reports once right away and then every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.report()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	cur := r.source.Snapshot()
	line := Format(cur, r.last)
	r.last = cur

	if r.Out == nil {
		log.Info(line)
		return
	}
	if _, err := fmt.Fprintln(r.Out, line); err != nil {
		log.Debugf("report dropped, %v", err)
	}
}

// Format renders cur. The rate is derived from prev and left out when prev
// is the zero Snapshot.
func Format(cur, prev ledger.Snapshot) string {
	line := fmt.Sprintf("clients_count: %d, bytes_total: %s", cur.Peers, humanize.Bytes(cur.Bytes))
	if prev.Taken.IsZero() {
		return line
	}

	elapsed := cur.Taken.Sub(prev.Taken).Seconds()
	if elapsed <= 0 || cur.Bytes < prev.Bytes {
		return line
	}
	rate := float64(cur.Bytes-prev.Bytes) / elapsed
	return fmt.Sprintf("%s, rate: %s/s", line, humanize.Bytes(uint64(rate)))
}
