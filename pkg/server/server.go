package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/iberryful/tarpit/pkg/filler"
	"github.com/iberryful/tarpit/pkg/ledger"
	"github.com/iberryful/tarpit/pkg/log"
)

var ErrNoFiller = errors.New("no filler configured")

type ServerOption struct {
	Listen   string
	Preamble []byte
	Filler   filler.Factory
	// ChunkSize is the size of each filler write, DefaultChunkSize when 0.
	ChunkSize int
	// Pace is slept after every chunk.
	Pace time.Duration
	// Rate caps chunks per second per connection, 0 means unlimited.
	Rate int
	// MaxConns caps concurrently served connections, 0 means unlimited.
	MaxConns int
}

type Server struct {
	option   *ServerOption
	ledger   *ledger.Ledger
	active   int64
	accepted uint64
	seq      uint32
}

func NewServer(o *ServerOption, l *ledger.Ledger) (*Server, error) {
	if o.Filler == nil {
		return nil, fmt.Errorf("error creating server, %w", ErrNoFiller)
	}
	if l == nil {
		return nil, errors.New("error creating server, no ledger")
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = filler.DefaultChunkSize
	}
	if o.ChunkSize < 0 || o.ChunkSize > filler.MaxChunkSize {
		return nil, fmt.Errorf("error creating server, chunk size %d out of range", o.ChunkSize)
	}
	if o.Pace < 0 || o.Rate < 0 || o.MaxConns < 0 {
		return nil, errors.New("error creating server, pace, rate and max conns must not be negative")
	}
	return &Server{
		option: o,
		ledger: l,
	}, nil
}

// ListenAndServe binds the configured address and serves it until the
// listener fails or ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.option.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve hands every accepted connection to its own worker goroutine and never
// waits for workers. An accept error ends Serve and is meant to end the
// process; there is no attempt to recover the listener. When ctx is done the
// listener and all connections are closed and ctx.Err() is returned.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.option.MaxConns > 0 {
		l = netutil.LimitListener(l, s.option.MaxConns)
	}
	defer l.Close()
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	log.Infof("Listening at %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}

		atomic.AddUint64(&s.accepted, 1)
		go s.handleConn(ctx, conn)
	}
}

// Active is the number of workers currently running.
func (s *Server) Active() int64 {
	return atomic.LoadInt64(&s.active)
}

// Accepted is the number of connections accepted since start.
func (s *Server) Accepted() uint64 {
	return atomic.LoadUint64(&s.accepted)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	atomic.AddInt64(&s.active, 1)
	defer atomic.AddInt64(&s.active, -1)
	defer conn.Close()

	// unblocks a write stuck on a stalled peer
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w := s.newWorker(conn)
	w.run(ctx)
}
