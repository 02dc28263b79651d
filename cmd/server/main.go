package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"roomrelay/internal/app"
)

func main() {
	configPath := flag.String("config", getEnv("ROOMRELAY_CONFIG", ""), "optional yaml config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	wsPath := flag.String("path", "", "websocket path (overrides config)")
	flag.Parse()

	cfg, err := app.LoadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *wsPath != "" {
		cfg.WSPath = app.NormalizeWSPath(*wsPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		log.Fatalf("start server: %v", err)
	}
	log.Printf("roomrelay listening on %s%s", handle.Addr(), cfg.WSPath)

	if err := handle.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
