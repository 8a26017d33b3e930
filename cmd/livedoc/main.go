// Command livedoc serves a source artifact as a live document: the file is
// rendered into a session, served over HTTP and on the terminal, and
// re-rendered whenever it changes on disk. Broken edits keep the last good
// page on screen until the next save fixes them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livedoc-io/livedoc/pkg/cache"
	"github.com/livedoc-io/livedoc/pkg/config"
	"github.com/livedoc-io/livedoc/pkg/console"
	"github.com/livedoc-io/livedoc/pkg/reload"
	"github.com/livedoc-io/livedoc/pkg/server"
	"github.com/livedoc-io/livedoc/pkg/session"
	"github.com/livedoc-io/livedoc/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (default: XDG config dir)")
	artifact := flag.String("artifact", "", "Markdown or text file to serve as a live document")
	addr := flag.String("addr", "", "Live view listen address (overrides config)")
	title := flag.String("title", "", "Document title (overrides config)")
	check := flag.Duration("check", 0, "Artifact check interval (overrides config)")
	noServer := flag.Bool("no-server", false, "Disable the HTTP live view")
	noConsole := flag.Bool("no-console", false, "Disable terminal output")
	progressive := flag.Bool("progressive", false, "Append terminal output instead of redrawing")
	help := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *help {
		fmt.Println("Usage: livedoc --artifact FILE [options]")
		fmt.Println("\nServes a file as a live, hot-reloading document.")
		flag.PrintDefaults()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Printf("livedoc %s\n", version.Version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *artifact != "" {
		cfg.Artifact = *artifact
	} else if flag.NArg() > 0 {
		cfg.Artifact = flag.Arg(0)
	}
	if cfg.Artifact == "" {
		fmt.Fprintln(os.Stderr, "Error: no artifact given (use --artifact FILE)")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *title != "" {
		cfg.Title = *title
	}
	if *check > 0 {
		cfg.Check = config.Duration(*check)
	}
	if *noServer {
		cfg.Server.Enabled = false
	}
	if *noConsole {
		cfg.Console.Enabled = false
	}
	if *progressive {
		cfg.Console.Progressive = true
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func run(cfg config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var sink *console.Sink
	if cfg.Console.Enabled {
		sink = console.NewSink(
			console.WithProgressive(cfg.Console.Progressive),
			console.WithWidth(cfg.Console.Width),
		)
		sink.Print(sink.Rule(cfg.Title))
	}

	var store *cache.SQLiteStore
	if path := cfg.CachePath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			logger.Warn("cell cache disabled", "error", err)
		} else if s, err := cache.OpenSQLiteStore(path); err != nil {
			logger.Warn("cell cache disabled", "error", err)
		} else {
			store = s
			defer store.Close()
		}
	}

	host := session.New(
		session.WithTitle(cfg.Title),
		session.WithFormats(cfg.Formats...),
	)

	loader := func(prior *cache.Cache) (*session.Session, error) {
		content, err := os.ReadFile(cfg.Artifact)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", cfg.Artifact, err)
		}
		c := cache.Adopt(prior, cfg.Cache.Version)
		if store != nil {
			if err := c.Attach(store); err != nil {
				logger.Warn("cell cache unreadable", "error", err)
			}
		}
		opts := []session.Option{
			session.WithTitle(cfg.Title),
			session.WithFormats(cfg.Formats...),
			session.WithCache(c),
		}
		if sink != nil {
			opts = append(opts, session.WithConsole(sink))
		}
		s := session.New(opts...)
		s.WriteMarkdown(string(content))
		return s, nil
	}

	sup, err := reload.New(host, cfg.Artifact, loader,
		reload.WithCheckInterval(cfg.Check.Std()),
		reload.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer sup.Terminate()
		return sup.Run(ctx)
	})
	if cfg.Server.Enabled {
		srv := server.New(host, cfg.Server.Addr,
			server.WithLogger(logger),
			server.WithRefresh(maxDuration(cfg.Refresh.Std(), 50*time.Millisecond)),
		)
		g.Go(func() error { return srv.Run(ctx) })
	}

	logger.Info("serving live document",
		"artifact", cfg.Artifact,
		"server", cfg.Server.Enabled,
		"console", cfg.Console.Enabled)
	return g.Wait()
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
