package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB"
	"github.com/nickyhof/LayerDB/config"
	"github.com/nickyhof/LayerDB/core"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configFile := flag.String("config", "", "Config file (default $XDG_CONFIG_HOME/layerdb/config.yaml)")
	addr := flag.String("addr", "", "Address to listen on (overrides server.addr)")
	dataDir := flag.String("dataDir", "", "Data directory (overrides data_dir, \":memory:\" for memory)")
	jwtSecret := flag.String("jwtSecret", "", "Shared secret for JWT authentication (overrides server.jwt_secret)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("LayerDB Server v%s\n", Version)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *jwtSecret != "" {
		cfg.Server.JWTSecret = *jwtSecret
	}

	ctx := context.Background()
	instance, err := LayerDB.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open instance: %v\n", err)
		os.Exit(1)
	}
	defer instance.Close()
	logger := instance.Logger

	identity := core.Identity{
		Name:  "LayerDB Server",
		Email: "server@layerdb.local",
	}
	var opts []Option
	if cfg.Server.JWTSecret != "" {
		opts = append(opts, WithAuth(AuthConfig{
			JWTSecret: cfg.Server.JWTSecret,
			Issuer:    cfg.Server.Issuer,
			Audience:  cfg.Server.Audience,
		}))
	}

	server := NewServer(instance, identity, opts...)
	if cfg.Server.TLSCert != "" {
		err = server.StartTLS(cfg.Server.Addr, cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		err = server.Start(cfg.Server.Addr)
	}
	if err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Print banner
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║   LayerDB Server v%-19s  ║\n", Version)
	fmt.Println("║   Versioned tabular data over HTTP    ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Listening on %s\n", server.Addr())
	if cfg.Memory() {
		fmt.Println("Using memory persistence")
	} else {
		fmt.Printf("Using data directory %s\n", cfg.DataDir)
	}
	if len(opts) == 0 {
		fmt.Println("Authentication disabled")
	}
	fmt.Println()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
