package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vertextoedge/streamcache/internal/domain"
	"github.com/vertextoedge/streamcache/internal/service/stream"
)

var (
	fetchSeek    int64
	fetchNext    string
	fetchDigest  string
	fetchTimeout time.Duration
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a resource into the cache",
	Long: "Download a resource progressively into the cache. With --seek the bytes from that\n" +
		"offset are fetched first; with --next the following resource is prepared and\n" +
		"downloaded once the first one is complete.",
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().Int64Var(&fetchSeek, "seek", 0, "Offset to start downloading from")
	fetchCmd.Flags().StringVar(&fetchNext, "next", "", "Resource to download after this one")
	fetchCmd.Flags().StringVar(&fetchDigest, "sha256", "", "Expected hex sha256 of the resource")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 0, "Give up after this long (0 waits forever)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	key := args[0]
	for _, k := range []string{key, fetchNext} {
		if k != "" && !a.router.Supports(k) {
			return fmt.Errorf("%w: %s", domain.ErrUnsupportedScheme, k)
		}
	}

	var opts []stream.OpenOption
	if fetchDigest != "" {
		opts = append(opts, stream.WithExpectedDigest(fetchDigest))
	}
	p, err := a.factory.Open(ctx, key, opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	if fetchNext != "" {
		if _, err := p.SetHint(ctx, fetchNext); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if err := download(ctx, out, p, fetchSeek); err != nil {
		return err
	}

	if fetchNext != "" {
		next, err := p.PromoteHint()
		if err != nil {
			return err
		}
		defer next.Close()
		if err := download(ctx, out, next, 0); err != nil {
			return err
		}
	}

	metrics := a.metrics.GetMetrics()
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-20s %d\n", name, metrics[name])
	}
	return nil
}

// download reads p from seek to the end, then fills in the bytes before seek.
func download(ctx context.Context, out io.Writer, p *stream.Provider, seek int64) error {
	r := p.NewReader(ctx)
	if seek > 0 {
		if _, err := r.Seek(seek, io.SeekStart); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go reportProgress(out, p, done)
	_, err := io.Copy(io.Discard, r)
	if err == nil && seek > 0 {
		err = p.WaitForRange(ctx, domain.ByteRange{Start: 0, Length: seek})
	}
	close(done)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", p.Key(), err)
	}

	waitSettled(ctx, p)
	fmt.Fprintf(out, "%s\n  status  %s\n  length  %d\n  type    %s\n  sha256  %s\n  path    %s\n",
		p.Key(), p.Status(), p.ExpectedLength(), p.TypeHint(), p.Digest(), p.CachedPath())
	return p.IntegrityErr()
}

func reportProgress(out io.Writer, p *stream.Provider, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fmt.Fprintf(out, "  %5.1f%%  %d bytes\n", p.BufferingRatio()*100, p.ReceivedLength())
		}
	}
}

// waitSettled waits briefly for the completion bookkeeping (digest,
// verification) that follows the last byte.
func waitSettled(ctx context.Context, p *stream.Provider) {
	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	for {
		if st := p.Status(); st == domain.StatusFailed || (st == domain.StatusFinished && p.Digest() != "") {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-p.Notify():
		case <-time.After(50 * time.Millisecond):
		}
	}
}
