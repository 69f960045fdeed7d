package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"

	"github.com/a-h/kv"

	"github.com/a-h/cdndepot/accesscounter"
	"github.com/a-h/cdndepot/accesslog"
	"github.com/a-h/cdndepot/cache"
	"github.com/a-h/cdndepot/cmd/globals"
	"github.com/a-h/cdndepot/compiler"
	"github.com/a-h/cdndepot/installer"
	"github.com/a-h/cdndepot/internal/httpmw"
	"github.com/a-h/cdndepot/loggedstorage"
	"github.com/a-h/cdndepot/metrics"
	"github.com/a-h/cdndepot/orchestrator"
	"github.com/a-h/cdndepot/registry"
	"github.com/a-h/cdndepot/storage"
	"github.com/a-h/cdndepot/store"
)

type CLI struct {
	globals.Globals
	Version VersionCmd `cmd:"" help:"Show version information"`
	Serve   ServeCmd   `cmd:"" help:"Start the CDN server"`
}

var Version = "dev"

type VersionCmd struct{}

func (cmd *VersionCmd) Run(globals *globals.Globals) error {
	fmt.Printf("%s", Version)
	return nil
}

type ServeCmd struct {
	DatabaseType      string `help:"Choice of database (sqlite, rqlite or postgres)" default:"sqlite" enum:"sqlite,rqlite,postgres" env:"CDNDEPOT_DATABASE_TYPE"`
	DatabaseURL       string `help:"Database connection URL" default:"" env:"CDNDEPOT_DATABASE_URL"`
	ListenAddr        string `help:"Address to listen on" default:":8080" env:"CDNDEPOT_LISTEN_ADDR"`
	MetricsListenAddr string `help:"Address for metrics endpoint" default:":9090" env:"CDNDEPOT_METRICS_LISTEN_ADDR"`
	PackagesDir       string `help:"Directory packages are installed into" default:"" env:"CDNDEPOT_PACKAGES_DIR"`
	NPMRegistryURL    string `help:"npm registry base URL" default:"" env:"CDNDEPOT_NPM_REGISTRY_URL"`
	GitHubToken       string `help:"GitHub API token for raising the anonymous rate limit" default:"" env:"CDNDEPOT_GITHUB_TOKEN"`
	NPMPath           string `help:"Path to the npm executable" default:"npm" env:"CDNDEPOT_NPM_PATH"`

	ArchiveBackend string `help:"Durable backend for installed package trees (none, filesystem or s3)" default:"none" enum:"none,filesystem,s3" env:"CDNDEPOT_ARCHIVE_BACKEND"`
	ArchiveDir     string `help:"Directory used by the filesystem archive backend" default:"" env:"CDNDEPOT_ARCHIVE_DIR"`
	S3Bucket       string `help:"Bucket used by the s3 archive backend" default:"" env:"CDNDEPOT_S3_BUCKET"`
	S3Prefix       string `help:"Key prefix used by the s3 archive backend" default:"cdndepot" env:"CDNDEPOT_S3_PREFIX"`
	S3Region       string `help:"Region used by the s3 archive backend" default:"" env:"CDNDEPOT_S3_REGION"`
	S3Endpoint     string `help:"Custom endpoint for S3-compatible archive backends" default:"" env:"CDNDEPOT_S3_ENDPOINT"`
}

// createArchive builds the optional durable backend for installed package
// trees, wrapping it in LoggedStorage so reads and writes are recorded
// through the same accesslog the teacher's storage layer used for
// download-counted artifacts.
func (cmd *ServeCmd) createArchive(ctx context.Context, log *slog.Logger, kvStore kv.Store, m metrics.Metrics) (archive storage.Archiver, shutdown func(timeout time.Duration) error, err error) {
	noop := func(time.Duration) error { return nil }

	var wrapped storage.Archiver
	switch cmd.ArchiveBackend {
	case "none":
		return nil, noop, nil
	case "filesystem":
		dir := cmd.ArchiveDir
		if dir == "" {
			dir = filepath.Join(cmd.PackagesDir, "archive")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, noop, fmt.Errorf("failed to create archive directory: %w", err)
		}
		wrapped = storage.NewFileSystem(dir)
	case "s3":
		wrapped, err = storage.NewS3(ctx, storage.S3Config{
			Bucket:         cmd.S3Bucket,
			Prefix:         cmd.S3Prefix,
			Region:         cmd.S3Region,
			Endpoint:       cmd.S3Endpoint,
			ForcePathStyle: cmd.S3Endpoint != "",
		})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to configure s3 archive backend: %w", err)
		}
	default:
		return nil, noop, fmt.Errorf("unknown archive backend %q", cmd.ArchiveBackend)
	}

	logged, shutdown := loggedstorage.New(ctx, log, wrapped, accesslog.New(kvStore), m)
	return logged, shutdown, nil
}

func (cmd *ServeCmd) Run(globals *globals.Globals) error {
	opts := &slog.HandlerOptions{}
	if globals.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	if cmd.PackagesDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		cmd.PackagesDir = filepath.Join(home, "cdndepot-packages")
	}
	if err := os.MkdirAll(cmd.PackagesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create packages directory: %w", err)
	}

	if cmd.DatabaseURL == "" {
		cmd.DatabaseURL = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_busy_timeout=5000&_txlock=immediate&_journal_mode=DELETE", filepath.Join(cmd.PackagesDir, "cdndepot.db"))
	}

	ctx := context.Background()
	kvStore, closer, err := store.New(ctx, cmd.DatabaseType, cmd.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer closer()

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	go func() {
		if err := metrics.ListenAndServe(cmd.MetricsListenAddr); err != nil {
			log.Error("metrics server exited", slog.String("addr", cmd.MetricsListenAddr), slog.String("error", err.Error()))
		}
	}()

	inst := installer.New(cmd.PackagesDir, cmd.NPMPath)
	inst.Log = log
	archive, shutdownArchive, err := cmd.createArchive(ctx, log, kvStore, m)
	if err != nil {
		return fmt.Errorf("failed to configure archive backend: %w", err)
	}
	inst.Archive = archive
	defer shutdownArchive(5 * time.Second)

	compilers := compiler.New(compilerSource(inst))
	defer compilers.Close()

	events, shutdownCounter := accesscounter.NewBufferedCounter(ctx, log, kvStore, m, 256)
	prefetch := make(chan string, 1024)

	orch := &orchestrator.Orchestrator{
		Log: log,
		Registries: registry.Registries{
			NPM:    registry.NewNPM(cmd.NPMRegistryURL),
			GitHub: registry.NewGitHub(cmd.GitHubToken),
		},
		Installer:   inst,
		Compilers:   compilers,
		Cache:       cache.New(kvStore, log),
		Metrics:     m,
		AccessEvent: events,
		Prefetch:    prefetch,
	}

	go runPrefetchWorkers(ctx, orch, prefetch, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpmw.Healthz)
	mux.Handle("/", orch)

	handler := httpmw.NewLogger(log, mux)

	s := http.Server{Addr: cmd.ListenAddr, Handler: handler}
	log.Info("starting server", slog.String("addr", cmd.ListenAddr), slog.String("metricsAddr", cmd.MetricsListenAddr), slog.String("packagesDir", cmd.PackagesDir))
	err = s.ListenAndServe()
	log.Info("server shutdown complete", slog.Any("error", err))
	close(prefetch)
	shutdownCounter()
	return err
}

// runPrefetchWorkers drains the prefetch channel with a small worker pool,
// per the design note preferring message passing over recursive in-request
// calls for the edges the rewriter discovers.
func runPrefetchWorkers(ctx context.Context, orch *orchestrator.Orchestrator, prefetch <-chan string, workers int) {
	for i := 0; i < workers; i++ {
		go func() {
			for canonicalURL := range prefetch {
				orch.HandlePrefetch(ctx, canonicalURL)
			}
		}()
	}
}

// compilerSource loads a compiler version's bundled module text from the
// installed svelte package's own compiler entry point, ensuring it's
// installed first.
func compilerSource(inst *installer.Installer) compiler.Source {
	return func(ctx context.Context, version string) (string, error) {
		if _, err := inst.EnsureInstalled(ctx, "npm", "svelte", version); err != nil {
			return "", err
		}
		root := inst.PackageRoot("svelte", version)
		for _, candidate := range []string{
			filepath.Join(root, "compiler", "index.js"),
			filepath.Join(root, "compiler.js"),
			filepath.Join(root, "compiler", "compiler.cjs"),
		} {
			if b, err := os.ReadFile(candidate); err == nil {
				return string(b), nil
			}
		}
		return "", fmt.Errorf("svelte compiler entry point not found for version %s under %s", version, root)
	}
}

func main() {
	cli := CLI{Globals: globals.Globals{}}

	ctx := kong.Parse(&cli,
		kong.Name("cdndepot"),
		kong.Description("On-demand module CDN for npm and GitHub packages"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
