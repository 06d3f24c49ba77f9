package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ChamsBouzaiene/gamesync/internal/catalog"
	"github.com/ChamsBouzaiene/gamesync/internal/remote/remotetest"
	"github.com/ChamsBouzaiene/gamesync/internal/session"
	"github.com/ChamsBouzaiene/gamesync/internal/watcher"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

const usage = `Usage: gamesync [--config path] [--quiet] <command> [args]

Commands:
  sync                     Reconcile the catalog with the server
  media [gameId...]        Upload changed media folders (all games when none given)
  sweep                    Deliver pending sessions and evict expired ones
  start <gameId>           Record that a game started
  stop <gameId> <seconds>  Record that a game stopped after the given play time
  status [--json]          Show configuration and pending sessions
  import <catalog.json>    Load games from a JSON array into the catalog
  watch                    Run the background sync and react to catalog/media changes
  devserver [--addr addr]  Serve a local fake insights server
`

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	fs := flag.NewFlagSet("gamesync", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.json (default: user config dir)")
	quiet := fs.Bool("quiet", false, "Suppress log output")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("command failed: %v", err)
	}

	// Logs go to stderr so stdout stays machine-readable
	log.SetOutput(os.Stderr)
	if *quiet {
		log.SetOutput(io.Discard)
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, args[0], args[1:]); err != nil {
		stop()
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func run(ctx context.Context, configPath, cmd string, args []string) error {
	switch cmd {
	case "sync":
		return runSync(ctx, configPath)
	case "media":
		return runMedia(ctx, configPath, args)
	case "sweep":
		return runSweep(ctx, configPath)
	case "start":
		return runStart(ctx, configPath, args)
	case "stop":
		return runStop(ctx, configPath, args)
	case "status":
		return runStatus(ctx, configPath, args)
	case "import":
		return runImport(ctx, configPath, args)
	case "watch":
		return runWatch(ctx, configPath)
	case "devserver":
		return runDevServer(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSync(ctx context.Context, configPath string) error {
	env, err := prepareRuntimeEnv(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()

	return env.Exporter.RunLibrarySync(ctx)
}

func runMedia(ctx context.Context, configPath string, ids []string) error {
	env, err := prepareRuntimeEnv(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()

	var games []catalog.Game
	for _, id := range ids {
		g, ok, err := env.Catalog.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("game %s is not in the catalog", id)
		}
		games = append(games, g)
	}

	report, err := env.Exporter.RunMediaFilesSync(ctx, games)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d media uploads failed", report.Failed, report.Total)
	}
	return nil
}

func runSweep(ctx context.Context, configPath string) error {
	env, err := prepareRuntimeEnv(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()

	return env.Sessions.Sync(ctx, time.Now().UTC())
}

func lookupGame(ctx context.Context, env *runtimeEnv, id string) (catalog.Game, error) {
	g, ok, err := env.Catalog.Get(ctx, id)
	if err != nil {
		return catalog.Game{}, err
	}
	if !ok {
		return catalog.Game{}, fmt.Errorf("game %s is not in the catalog", id)
	}
	return g, nil
}

func runStart(ctx context.Context, configPath string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: gamesync start <gameId>")
	}
	env, err := prepareRuntimeEnv(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()

	g, err := lookupGame(ctx, env, args[0])
	if err != nil {
		return err
	}
	return env.Runner().GameStarted(ctx, g)
}

func runStop(ctx context.Context, configPath string, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: gamesync stop <gameId> <seconds>")
	}
	seconds, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid play time %q: %w", args[1], err)
	}
	env, err := prepareRuntimeEnv(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()

	g, err := lookupGame(ctx, env, args[0])
	if err != nil {
		return err
	}
	return env.Runner().GameStopped(ctx, g, time.Duration(seconds)*time.Second)
}

type statusReport struct {
	ConfigPath string            `json:"configPath"`
	ServerURL  string            `json:"serverUrl"`
	CatalogDB  string            `json:"catalogDb"`
	Games      int               `json:"games"`
	MediaDir   string            `json:"mediaDir"`
	MediaBytes int64             `json:"mediaBytes"`
	Sessions   []session.Session `json:"pendingSessions"`
}

func runStatus(ctx context.Context, configPath string, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print the status as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := prepareRuntimeEnv(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer env.Close()

	ids, err := env.Catalog.IDs(ctx)
	if err != nil {
		return err
	}
	pending, err := env.Sessions.Pending()
	if err != nil {
		return err
	}
	report := statusReport{
		ConfigPath: env.ConfigPath,
		ServerURL:  env.Config.ServerURL,
		CatalogDB:  env.Config.CatalogDB,
		Games:      len(ids),
		MediaDir:   env.Config.MediaDir,
		MediaBytes: dirSize(env.Config.MediaDir),
		Sessions:   pending,
	}
	if report.Sessions == nil {
		report.Sessions = []session.Session{}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Config:   %s\n", report.ConfigPath)
	fmt.Printf("Server:   %s\n", valueOr(report.ServerURL, "(not configured)"))
	fmt.Printf("Catalog:  %s (%d games)\n", report.CatalogDB, report.Games)
	fmt.Printf("Media:    %s (%s)\n", report.MediaDir, units.HumanSize(float64(report.MediaBytes)))
	fmt.Printf("Pending sessions: %d\n", len(pending))
	if len(pending) == 0 {
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GAME\tSTATUS\tSTARTED\tDURATION")
	for _, s := range pending {
		duration := "-"
		if s.Duration != nil {
			duration = units.HumanDuration(time.Duration(*s.Duration) * time.Second)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s ago\t%s\n", s.GameID, s.Status, units.HumanDuration(now.Sub(s.StartTime)), duration)
	}
	return tw.Flush()
}

func runImport(ctx context.Context, configPath string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: gamesync import <catalog.json>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	env, err := prepareRuntimeEnv(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer env.Close()

	n, err := env.Catalog.ImportJSON(ctx, f)
	if err != nil {
		return err
	}
	log.Printf("✅ Imported %d games into %s", n, env.Config.CatalogDB)
	return nil
}

func runWatch(ctx context.Context, configPath string) error {
	env, err := prepareRuntimeEnv(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := os.MkdirAll(env.Config.MediaDir, 0755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	r := env.Runner()
	w, err := watcher.New(env.Config.MediaIgnore, env.Config.CatalogDB, env.Config.MediaDir)
	if err != nil {
		return err
	}
	w.OnChange(func([]string) { r.Trigger() })
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	r.Start()
	log.Printf("👀 Watching %s and %s (Ctrl+C to stop)", env.Config.CatalogDB, env.Config.MediaDir)
	<-ctx.Done()
	r.Stop()
	return nil
}

func runDevServer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("devserver", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8080", "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           remotetest.New().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🧪 Dev server listening on http://%s", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func dirSize(dir string) int64 {
	var total int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, game := range entries {
		if !game.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, game.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if info, err := f.Info(); err == nil && info.Mode().IsRegular() {
				total += info.Size()
			}
		}
	}
	return total
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
