package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/brettbedarf/tempofs/adapters"
	"github.com/brettbedarf/tempofs/config"
	"github.com/brettbedarf/tempofs/filesystem"
	"github.com/brettbedarf/tempofs/internal/util"
	"github.com/brettbedarf/tempofs/manifest"
	"github.com/brettbedarf/tempofs/metrics"
	"github.com/brettbedarf/tempofs/server"
)

func main() {
	// Parse command line arguments
	var (
		configPath  string
		verbose     int
		debug       bool
		umount      bool
		metricsAddr string
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	flag.StringVar(&configPath, "c", "", "--config (shorthand)")
	flag.BoolVar(&umount, "umount", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	flag.BoolVar(&umount, "u", false, "--umount (shorthand)")
	flag.IntVar(&verbose, "verbose", config.InfoVerbose, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	flag.IntVar(&verbose, "v", config.InfoVerbose, "--verbose (shorthand)")
	flag.BoolVar(&debug, "debug", false, "Log every FUSE request and reply")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <manifest> <mountpoint>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	manifestPath, mnt := flag.Arg(0), flag.Arg(1)

	// Config file first; explicit flags win over it
	override := &config.ConfigOverride{}
	if configPath != "" {
		var err error
		if override, err = config.LoadConfigOverrideFile(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", configPath, err)
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "verbose", "v":
			override.LogLvl = &verbose
		case "debug":
			override.Debug = &debug
		}
	})
	if override.LogLvl == nil {
		override.LogLvl = &verbose
	}
	cfg := config.NewConfig(override)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")
	logger.Info().Str("manifest", manifestPath).Str("mnt", mnt).Msg("tempofs initializing")

	// Try unmount if requested
	if umount {
		cmd := exec.Command("fusermount", "-u", mnt)
		// we ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	adapters.RegisterBuiltins(cfg)

	entries, err := manifest.Load(manifestPath)
	if err != nil {
		logger.Fatal().Err(err).Str("manifest", manifestPath).Msg("Failed to load manifest")
	}
	ns, err := filesystem.NewFS(cfg, entries, adapters.NewSource)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build namespace")
	}

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("Serving metrics")
	}

	fs := server.New(cfg, ns)
	if err := fs.Serve(mnt); err != nil {
		logger.Fatal().Err(err).Msg("Failed to mount filesystem")
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	logger.Info().Str("mountpoint", mnt).Int("entries", ns.Len()).Msg("Filesystem mounted successfully")

	// Wait for termination signal or an external unmount
	unmounted := make(chan struct{})
	go func() {
		_ = fs.Wait() //nolint:errcheck // only reached after a successful Serve
		close(unmounted)
	}()
	select {
	case sig := <-signalChan:
		logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")
		if err := fs.Unmount(); err != nil {
			logger.Error().Err(err).Msg("Failed to unmount filesystem")
		} else {
			logger.Info().Msg("Filesystem unmounted successfully")
		}
	case <-unmounted:
		logger.Info().Msg("Filesystem unmounted externally")
	}

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
	}
}
