package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/logging"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/server"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/telemetry"
)

func main() {
	cfg := config.DefaultServer()
	cfg.LoadEnv()

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "UDP listen address")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "diagnostics HTTP address (empty disables)")
	flag.IntVar(&cfg.GridSize, "grid", cfg.GridSize, "grid side length")
	flag.IntVar(&cfg.RoomCapacity, "capacity", cfg.RoomCapacity, "players per room")
	flag.IntVar(&cfg.BroadcastHz, "hz", cfg.BroadcastHz, "snapshot broadcast rate")
	flag.DurationVar(&cfg.MatchDuration, "duration", cfg.MatchDuration, "match time limit (0 = until grid fills)")
	flag.BoolVar(&cfg.SessionResume, "resume", cfg.SessionResume, "allow session resumption after reconnect")
	flag.StringVar(&cfg.MetricsPath, "metrics", cfg.MetricsPath, "metrics CSV path (empty disables)")
	flag.StringVar(&cfg.LogPath, "log", cfg.LogPath, "log file path")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogPath, cfg.Debug)
	defer log.Sync()

	recorder, err := telemetry.NewRecorder(cfg.MetricsPath)
	if err != nil {
		log.Fatalw("open metrics recorder", "path", cfg.MetricsPath, "err", err)
	}
	defer recorder.Close()

	conn, err := server.Bind(cfg.ListenAddr)
	if err != nil {
		log.Fatalw("bind UDP socket", "addr", cfg.ListenAddr, "err", err)
	}

	hub := server.NewHub(cfg, conn, log, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: hub.Handler()}
		go func() {
			log.Infow("diagnostics listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("diagnostics server", "err", err)
			}
		}()
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		cancel()
	}()

	log.Infow("echosync server listening", "addr", cfg.ListenAddr,
		"grid", cfg.GridSize, "capacity", cfg.RoomCapacity, "hz", cfg.BroadcastHz)

	if err := hub.Serve(ctx, conn); err != nil {
		log.Errorw("serve", "err", err)
	}

	hub.Shutdown()
	if httpSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
		defer stop()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
}
