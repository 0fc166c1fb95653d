package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/client"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/logging"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/telemetry"
)

// The client binary is the harness-driven bot: it joins a room, claims
// random free cells while the match runs, and exits when the room closes or
// the configured duration elapses. All measurement happens through the
// metrics recorder.
func main() {
	cfg := config.DefaultClient()
	cfg.LoadEnv()

	var (
		duration      time.Duration
		claimInterval time.Duration
	)
	flag.StringVar(&cfg.ServerAddr, "server", cfg.ServerAddr, "server UDP address")
	flag.StringVar(&cfg.RoomName, "room", cfg.RoomName, "room to join (empty creates one)")
	flag.DurationVar(&duration, "duration", 60*time.Second, "how long to run")
	flag.DurationVar(&claimInterval, "claim-every", 500*time.Millisecond, "delay between claim attempts")
	flag.BoolVar(&cfg.SessionResume, "resume", cfg.SessionResume, "resume identity after reconnect")
	flag.StringVar(&cfg.MetricsPath, "metrics", cfg.MetricsPath, "metrics CSV path (empty disables)")
	flag.StringVar(&cfg.LogPath, "log", cfg.LogPath, "log file path")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flag.Parse()

	log := logging.New(cfg.LogPath, cfg.Debug)
	defer log.Sync()

	recorder, err := telemetry.NewRecorder(cfg.MetricsPath)
	if err != nil {
		log.Fatalw("open metrics recorder", "path", cfg.MetricsPath, "err", err)
	}
	defer recorder.Close()

	server, err := net.ResolveUDPAddr("udp", cfg.ServerAddr)
	if err != nil {
		log.Fatalw("resolve server address", "addr", cfg.ServerAddr, "err", err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		log.Fatalw("open UDP socket", "err", err)
	}

	engine := client.New(cfg, conn, server, log, recorder)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	go engine.Run(ctx)

	log.Infow("echosync client started", "server", cfg.ServerAddr, "room", cfg.RoomName)

	ticker := time.NewTicker(claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			report(engine, log)
			return
		case <-ticker.C:
			if err := engine.Err(); err != nil {
				log.Warnw("giving up", "err", err)
				report(engine, log)
				return
			}
			if engine.Mirror().Closed() {
				log.Info("room closed, match over")
				report(engine, log)
				return
			}
			if engine.State() != client.StateSynced {
				continue
			}
			free := engine.Mirror().FreeCells()
			if len(free) == 0 {
				continue
			}
			cell := free[rand.Intn(len(free))]
			if err := engine.Claim(cell); err != nil {
				log.Debugw("claim refused", "cell", cell, "err", err)
			}
		}
	}
}

func report(engine *client.Engine, log *zap.SugaredLogger) {
	room, player := engine.Session()
	stats := engine.Stats()
	now := time.Now()
	log.Infow("final report",
		"room", room,
		"player", player,
		"capacity", engine.Capacity(),
		"score", engine.Mirror().Score(player),
		"snapshots", stats.Snapshots(),
		"lost", stats.LostSnapshots(),
		"rttMs", stats.RTT().Milliseconds(),
		"jitterMs", stats.Jitter().Milliseconds(),
		"snapshotsPerSec", fmt.Sprintf("%.1f", stats.SnapshotsPerSec(now)),
	)
}
