// Command gofetchd is a demo driver for the peer session engine: it seeds
// a small synthetic swarm, runs the choking algorithm and stats reporting
// on a tick, and prints progress until every tracked peer looks like a
// seeder. It does not dial real peers or speak the wire protocol over a
// socket — the HTTP/FTP download paths, the tracker client, and the full
// wire codec are out of scope; this driver exists to exercise the engine
// and its collaborators end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/qitv/gofetch/internal/chokealgo"
	"github.com/qitv/gofetch/internal/clock"
	"github.com/qitv/gofetch/internal/config"
	"github.com/qitv/gofetch/internal/logging"
	"github.com/qitv/gofetch/internal/peer"
	"github.com/qitv/gofetch/internal/session"
)

const (
	pieceLength = 16384
	pieceCount  = 64
	totalLength = pieceLength * pieceCount
)

func main() {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	logger := logging.New(os.Stdout, interactive)
	slog.SetDefault(logger)

	cfg, err := config.Default()
	if err != nil {
		logger.Error("failed to build default config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := seedSwarm(logger, cfg, 8)
	algo := chokealgo.New(cfg, time.Now().UnixNano())

	var bar *progressbar.ProgressBar
	if interactive {
		bar = progressbar.DefaultBytes(int64(totalLength), "downloading")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runRechokeLoop(gctx, cfg, algo, registry)
	})
	g.Go(func() error {
		return runProgressLoop(gctx, registry, bar, interactive, logger)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("demo driver exited with error", "error", err)
		os.Exit(1)
	}
}

// seedSwarm builds n synthetic peers at random download progress, so
// the choking algorithm and progress loop have something to chew on. Each
// peer's session gets its own logger bound to its TraceID, so every line
// about that session can be grepped together; a fresh session after a
// reconnect would carry a new TraceID.
func seedSwarm(logger *slog.Logger, cfg config.Config, n int) *peer.Registry {
	registry := peer.NewRegistry()
	clk := clock.System{}

	for i := 0; i < n; i++ {
		p := peer.New(clk, fmt.Sprintf("203.0.113.%d", i+1), uint16(6881+i), i%2 == 0)
		p.AllocateSessionResource(pieceLength, totalLength)
		p.SetFastExtensionEnabled(cfg.FastExtensionEnabled)
		p.SetExtendedMessagingEnabled(cfg.ExtendedMessagingEnabled)

		peerLog := logging.WithTraceID(logger, p.TraceID())
		peerLog.Info("allocated session resource", "peer_id", p.ID())

		// Give each peer a random number of pieces, and interest if it has
		// any, to produce a visibly non-uniform choke table.
		owned := rand.Intn(pieceCount)
		for idx := 0; idx < owned; idx++ {
			_ = p.UpdateBitfield(idx, session.SET)
		}
		p.SetPeerInterested(owned > 0)

		registry.Put(p)
	}

	return registry
}

func runRechokeLoop(ctx context.Context, cfg config.Config, algo *chokealgo.Algorithm, registry *peer.Registry) error {
	ticker := time.NewTicker(cfg.RechokeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			algo.Rechoke(registry.Snapshot())
		}
	}
}

func runProgressLoop(ctx context.Context, registry *peer.Registry, bar *progressbar.ProgressBar, interactive bool, logger *slog.Logger) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			peers := registry.Snapshot()
			var completed uint64
			for _, p := range peers {
				if !p.HasSession() {
					continue
				}
				completed += p.GetCompletedLength()
				p.UpdateDownloadLength(uint64(rand.Intn(4096)))
			}
			avg := completed
			if len(peers) > 0 {
				avg /= uint64(len(peers))
			}

			if interactive && bar != nil {
				_ = bar.Set64(int64(avg))
			} else {
				printSummary(logger, peers)
			}

			if avg >= totalLength {
				return nil
			}
		}
	}
}

func printSummary(logger *slog.Logger, peers []*peer.Peer) {
	seeders := 0
	for _, p := range peers {
		if p.Seeder() {
			seeders++
		}
	}
	msg := colorstring.Color(fmt.Sprintf(
		"[green]%d[reset]/[yellow]%d[reset] peers are seeders", seeders, len(peers),
	))
	logger.Info(msg)
}
