// Command node-drive serves a directory over HTTP and WebDAV, minting a
// signed, OpenTimestamps-anchored custody event for every file it
// receives and surfacing that provenance alongside the bytes.
//
// Usage:
//
//	node-drive [flags] [root]
//
// Examples:
//
//	# Serve the current directory with defaults
//	node-drive
//
//	# Serve ./public on :9000, read-only
//	node-drive -addr :9000 -read-only ./public
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/robfig/cron/v3"

	"github.com/mister-teddy/node-drive/internal/config"
	"github.com/mister-teddy/node-drive/internal/logging"
	"github.com/mister-teddy/node-drive/internal/ots"
	"github.com/mister-teddy/node-drive/internal/provenance"
	"github.com/mister-teddy/node-drive/internal/server"
	"github.com/mister-teddy/node-drive/internal/share"
	"github.com/mister-teddy/node-drive/internal/signer"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.node-drive/config.toml)")
	addr := flag.String("addr", "", "listen address, e.g. :8080 (overrides config)")
	readOnly := flag.Bool("read-only", false, "disable all writes regardless of config")
	logFormat := flag.String("log-format", "text", "log output format: text or json")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "node-drive - content-provenance file server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [root]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("node-drive %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if flag.NArg() > 0 {
		cfg.Root = flag.Arg(0)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *readOnly {
		cfg.ReadOnly = true
	}
	if cfg.ServerPrivateKeyHex == "" {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate signing key: %v\n", err)
			os.Exit(1)
		}
		cfg.ServerPrivateKeyHex = hex.EncodeToString(key.Serialize())
		fmt.Fprintf(os.Stderr, "warning: no server_private_key_hex configured, generated an ephemeral one for this run\n")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "create data directories: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	if *logFormat == "json" {
		logCfg.Format = logging.FormatJSON
	}
	logCfg.OnRotate = func(rotatedPath string) {
		_ = logging.DefaultAuditLogger().Log(context.Background(), logging.AuditEvent{
			EventType: logging.AuditEventConfigChange,
			Action:    "log_rotated",
			Resource:  rotatedPath,
			Result:    "success",
		})
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer logger.Close()

	if err := run(cfg); err != nil {
		logging.Error("node-drive exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := provenance.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open provenance database: %w", err)
	}
	defer store.Close()

	priv, err := signer.ParsePrivateKey(cfg.ServerPrivateKeyHex)
	if err != nil {
		return fmt.Errorf("parse server signing key: %w", err)
	}
	identity := provenance.Identity{
		PrivateKeyHex: cfg.ServerPrivateKeyHex,
		PublicKeyHex:  signer.PublicKeyHex(priv),
	}

	engine := ots.NewEngine(cfg.Calendars, cfg.BlockExplorerURL)
	events := provenance.NewEventManager(store, engine, identity)
	stamps := provenance.NewStampCache(store, engine)
	stamps.ThrottleWindow = time.Duration(cfg.ThrottleWindowSeconds) * time.Second
	stamps.Artifacts = provenance.NewXattrCache(store)
	shares := share.NewManager(store, share.Identity(identity))

	srvCfg := server.Config{
		Root:             cfg.Root,
		PathPrefix:       cfg.PathPrefix,
		Hidden:           cfg.Hidden,
		AllowUpload:      cfg.AllowUpload,
		AllowDelete:      cfg.AllowDelete,
		AllowSearch:      cfg.AllowSearch,
		AllowArchive:     cfg.AllowArchive,
		ReadOnly:         cfg.ReadOnly,
		MinResumableSize: cfg.MinResumableSize,
	}
	srv := server.New(ctx, srvCfg, store, events, stamps, engine, shares)

	c := cron.New()
	if _, err := c.AddFunc("@every 10m", func() {
		confirmed, err := stamps.UpgradeAll()
		if err != nil {
			logging.ErrorContext(ctx, "background upgrade sweep failed", "error", err)
			return
		}
		if confirmed > 0 {
			logging.InfoContext(ctx, "background upgrade sweep confirmed artifacts", "count", confirmed)
		}
	}); err != nil {
		return fmt.Errorf("schedule background upgrader: %w", err)
	}
	c.Start()
	defer c.Stop()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("node-drive listening", "addr", cfg.Addr, "root", cfg.Root)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

