package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-pickup/internal/api"
	"github.com/npezzotti/go-pickup/internal/config"
	"github.com/npezzotti/go-pickup/internal/invite"
	"github.com/npezzotti/go-pickup/internal/server"
	"github.com/npezzotti/go-pickup/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr            string
	publicHost      string
	staticDir       string
	roomIdleTimeout time.Duration
	allowedOrigins  stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "0.0.0.0:3000", "server address")
	flag.StringVar(&publicHost, "public-host", "", "host written into invite links (defaults to the first LAN IPv4 address)")
	flag.StringVar(&staticDir, "static-dir", "", "directory of static web client files to serve on /")
	flag.DurationVar(&roomIdleTimeout, "room-idle-timeout", 30*time.Minute, "unload rooms with no sessions after this long (0 keeps rooms forever)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-pickup] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, publicHost, allowedOrigins, roomIdleTimeout, staticDir)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = invite.LocalIPv4()
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	store := server.NewRoomStore(logger, statsUpdater, cfg.RoomIdleTimeout)
	hub := server.NewHub(logger, store, statsUpdater)

	inviter := invite.NewGenerator(cfg.PublicHost, cfg.PublicPort)
	srv := api.NewPickupApp(mux, logger, hub, inviter, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Printf("open http://%s:%s on a phone, or share %s", cfg.PublicHost, cfg.PublicPort, inviter.URL("myFamily", ""))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down hub...")
	if err := hub.Shutdown(shutDownCtx); err != nil {
		logger.Println("hub shutdown:", err)
	}

	logger.Println("shutdown complete")
}
