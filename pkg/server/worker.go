package server

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"go.uber.org/ratelimit"

	"github.com/iberryful/tarpit/pkg/filler"
	"github.com/iberryful/tarpit/pkg/ledger"
	"github.com/iberryful/tarpit/pkg/log"
)

// worker owns one accepted connection for its whole life: preamble first,
// then filler chunks until a write fails.
type worker struct {
	id        uint32
	conn      net.Conn
	peer      netip.AddrPort
	ledger    *ledger.Ledger
	preamble  []byte
	source    filler.Source
	chunkSize int
	pace      time.Duration
	limiter   ratelimit.Limiter
}

func (s *Server) newWorker(conn net.Conn) *worker {
	w := &worker{
		id:        atomic.AddUint32(&s.seq, 1),
		conn:      conn,
		peer:      ledger.PeerOf(conn.RemoteAddr()),
		ledger:    s.ledger,
		preamble:  s.option.Preamble,
		source:    s.option.Filler(),
		chunkSize: s.option.ChunkSize,
		pace:      s.option.Pace,
		limiter:   ratelimit.NewUnlimited(),
	}
	if s.option.Rate > 0 {
		w.limiter = ratelimit.New(s.option.Rate, ratelimit.WithoutSlack)
	}
	return w
}

func (w *worker) String() string {
	return fmt.Sprintf("#%04x %s", w.id&0xffff, w.peer)
}

func (w *worker) run(ctx context.Context) {
	if err := w.sendPreamble(); err != nil {
		log.Warnf("[%s] error while sending preamble: %v", w, err)
		return
	}
	log.Infof("[%s] started serving", w)

	err := w.stream(ctx)
	if ctx.Err() != nil {
		log.Debugf("[%s] stopped, %v", w, ctx.Err())
		return
	}
	log.Infof("[%s] error while writing: %v", w, err)
}

func (w *worker) sendPreamble() error {
	if _, err := w.conn.Write(w.preamble); err != nil {
		return err
	}
	w.ledger.Increment(w.peer, uint64(len(w.preamble)))
	return nil
}

// stream only returns on a failed write or a done context. A chunk is
// accounted after it has been written and before the next one is produced.
func (w *worker) stream(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.limiter.Take()

		chunk := w.source.Next(w.chunkSize)
		if _, err := w.conn.Write(chunk); err != nil {
			return err
		}
		w.ledger.Increment(w.peer, uint64(len(chunk)))

		if w.pace > 0 {
			time.Sleep(w.pace)
		}
	}
}
