// Command recordkeeper-check loads the recordkeeper configuration, opens the
// configured repository and reports how many records it holds per role.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"recordkeeper/internal/config"
	"recordkeeper/internal/core"
	"recordkeeper/internal/observability/logger"
	"recordkeeper/pkg/domain"
)

const (
	exitOK      = 0
	exitStorage = 1
	exitUsage   = 2
	exitConfig  = 3
)

var exitFunc = os.Exit

type report struct {
	Storage string         `json:"storage"`
	Cache   string         `json:"cache"`
	Total   int            `json:"total"`
	ByRole  map[string]int `json:"by_role"`
}

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recordkeeper-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		timeout    time.Duration
		asJSON     bool
	)
	fs.StringVar(&configPath, "config", "", "path to a YAML config file (default $"+config.EnvConfigFile+")")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "deadline for opening and scanning the repository")
	fs.BoolVar(&asJSON, "json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return exitUsage
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration invalid: %v\n", err)
		return exitConfig
	}
	log := logger.New(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: cfg.Log.ServiceName})
	defer func() { _ = log.Sync() }()
	defer logger.ReplaceGlobal(log)()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rep, err := run(ctx, cfg)
	if err != nil {
		logger.L().Error("repository check failed", logger.Driver(cfg.Storage.Driver), logger.Err(err))
		_, _ = fmt.Fprintf(stderr, "Repository check failed: %v\n", err)
		return exitStorage
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return exitStorage
		}
		return exitOK
	}
	if _, err := fmt.Fprintln(stdout, rep.String()); err != nil {
		return exitStorage
	}
	return exitOK
}

// run opens the configured repository and counts its records.
func run(ctx context.Context, cfg config.Config) (rep report, err error) {
	log := logger.Named("check")
	repo, err := core.OpenRepository(ctx, cfg, core.WithStorageLogger(log))
	if err != nil {
		return report{}, fmt.Errorf("open repository: %w", err)
	}
	defer func() {
		if cerr := core.CloseRepository(repo); cerr != nil && err == nil {
			err = fmt.Errorf("close repository: %w", cerr)
		}
	}()

	svc := core.NewService(repo, core.WithLogger(core.NewZapLogger(log)))
	rep = report{Storage: cfg.Storage.Driver, Cache: cfg.Cache.Driver, ByRole: make(map[string]int)}
	for _, role := range domain.Roles() {
		records, err := svc.ListByRole(ctx, role)
		if err != nil {
			return report{}, fmt.Errorf("list %s records: %w", role, err)
		}
		rep.ByRole[role.String()] = len(records)
		rep.Total += len(records)
	}
	log.Info("repository check passed", logger.Driver(cfg.Storage.Driver), logger.Count(rep.Total))
	return rep, nil
}

func (r report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "storage=%s cache=%s records=%d", r.Storage, r.Cache, r.Total)
	for _, role := range domain.Roles() {
		fmt.Fprintf(&b, " %s=%d", role, r.ByRole[role.String()])
	}
	return b.String()
}
