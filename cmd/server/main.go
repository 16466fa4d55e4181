package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"keyva/internal/config"
	"keyva/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Optional TOML configuration file")
	port := flag.Int("port", 6379, "Port to listen on")
	host := flag.String("host", "0.0.0.0", "Host to bind to")
	replicaof := flag.String("replicaof", "", "Primary to replicate from, as \"host port\"")
	dir := flag.String("dir", ".", "Directory reported for RDB persistence")
	dbfilename := flag.String("dbfilename", "dump.rdb", "Filename reported for RDB persistence")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Flags given on the command line win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "host":
			cfg.Host = *host
		case "dir":
			cfg.Dir = *dir
		case "dbfilename":
			cfg.DBFilename = *dbfilename
		case "replicaof":
			replicaHost, replicaPort, err := parseReplicaOf(*replicaof)
			if err != nil {
				log.Fatalf("Invalid --replicaof: %v", err)
			}
			cfg.ReplicaOfHost = replicaHost
			cfg.ReplicaOfPort = replicaPort
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg, clock.New())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down server...")
		cancel()
		srv.Shutdown()
	}()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// parseReplicaOf splits the "host port" argument of --replicaof.
func parseReplicaOf(arg string) (string, int, error) {
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		return "", 0, errors.New("expected \"host port\"")
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, err
	}
	return parts[0], port, nil
}
