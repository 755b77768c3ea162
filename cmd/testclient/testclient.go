package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/net/proxy"

	"github.com/iberryful/tarpit/pkg/log"
)

var (
	remoteAddr string
	proxyAddr  string
	halfClose  bool
	nBytes     int64
	skip       int64
	retryFor   time.Duration
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "testclient",
	Short: "Read from a tarpit and report what arrived",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&remoteAddr, "remote", "l", "127.0.0.1:8080", "remote address")
	f.StringVarP(&proxyAddr, "proxy", "p", "", "SOCKS5 proxy address")
	f.BoolVarP(&halfClose, "half-close", "H", false, "close the write side before reading")
	f.Int64VarP(&nBytes, "bytes", "n", 1<<20, "bytes to read, 0 reads until the server closes")
	f.Int64Var(&skip, "skip", 0, "leading bytes (the preamble) left out of the zero count")
	f.DurationVar(&retryFor, "retry", 30*time.Second, "keep retrying the dial this long")
	f.StringVarP(&logLevel, "log-level", "v", "info", "log level")
}

func run(ctx context.Context) error {
	log.SetLevel(logLevel)

	conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if halfClose {
		if tc, ok := conn.(*net.TCPConn); ok {
			log.Info("half close(write)")
			tc.CloseWrite()
		}
	}

	var r io.Reader = conn
	if nBytes > 0 {
		r = io.LimitReader(conn, nBytes)
	}

	c := &counter{skip: skip}
	start := time.Now()
	n, err := io.Copy(c, r)
	elapsed := time.Since(start)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Warnf("read stopped, %v", err)
	}

	var rate uint64
	if elapsed > 0 {
		rate = uint64(float64(n) / elapsed.Seconds())
	}
	log.Infof("read %s in %s (%s/s), %d of %d counted bytes were zero",
		humanize.Bytes(uint64(n)), elapsed.Round(time.Millisecond), humanize.Bytes(rate), c.zeros, c.counted)
	return nil
}

// connect dials remoteAddr, directly or over SOCKS5, retrying with backoff
// while the tarpit is not up yet.
func connect(ctx context.Context) (net.Conn, error) {
	var dialer proxy.Dialer = &net.Dialer{}
	if proxyAddr != "" {
		log.Infof("SOCKS5 %s", proxyAddr)
		d, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{})
		if err != nil {
			return nil, err
		}
		dialer = d
	} else {
		log.Info("DIRECT")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = retryFor

	var conn net.Conn
	err := backoff.RetryNotify(func() error {
		c, err := dialer.Dial("tcp", remoteAddr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Warnf("connecting %s failed, %v, retrying in %s", remoteAddr, err, wait)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("connected %s -> %s", conn.LocalAddr(), conn.RemoteAddr())
	return conn, nil
}

// counter discards what it is given and counts zero bytes past skip.
type counter struct {
	skip    int64
	counted int64
	zeros   int64
}

func (c *counter) Write(p []byte) (int, error) {
	n := len(p)
	if c.skip > 0 {
		k := min(int64(len(p)), c.skip)
		c.skip -= k
		p = p[k:]
	}
	c.counted += int64(len(p))
	c.zeros += int64(bytes.Count(p, []byte{0}))
	return n, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
