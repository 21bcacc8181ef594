// Command workpump manages work item and job definitions. It loads the
// configured snapshot store, applies one command and saves the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"workpump/internal/config"
	"workpump/internal/core"
	"workpump/pkg/domain"
)

const usage = `usage: workpump [-config file] <command> [args]

commands:
  apply <manifest.yaml>   register the definitions of a manifest
  list                    print the current definitions as JSON
  remove-items <id>...    remove work items
  remove-jobs <id>...     remove jobs
  export                  write a snapshot to the archive
  import <key>            replace the definitions with an archived snapshot
  archives                list archived snapshots

With metrics.driver set to expvar or prometheus, the operation totals of the
run are written to stderr when the command finishes.
`

var (
	exitFunc         = os.Exit
	errUsage         = errors.New("usage")
	stderrIsTerminal = isTerminal
)

// main runs the command-line interface and exits with the status code
// returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("workpump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "workpump: %v\n", err)
		return 1
	}
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "workpump: %v\n", err)
		return 1
	}

	err = run(context.Background(), cfg, logger, fs.Args(), stdout, stderr)
	switch {
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintf(stderr, "workpump: %v\n", err)
		fs.Usage()
		return 2
	case err != nil:
		logger.Error("command failed", "command", fs.Arg(0), "error", err)
		return 1
	}
	return 0
}

func newLogger(cfg config.Log, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	text := cfg.Format == config.LogFormatText || (cfg.Format == config.LogFormatAuto && stderrIsTerminal(w))
	if text {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) (err error) {
	store, err := core.OpenSnapshotStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close snapshot store: %w", cerr)
		}
	}()
	reg := prometheus.NewRegistry()
	metrics, err := core.NewMetricsRecorder(cfg.Metrics, reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		if werr := writeMetrics(stderr, metrics, reg); werr != nil {
			logger.Warn("write metrics failed", "error", werr)
		}
	}()

	svc := core.NewService(
		core.WithLogger(logger),
		core.WithSnapshotStore(store),
		core.WithMetricsRecorder(metrics),
	)
	if _, err := svc.Load(ctx); err != nil {
		return err
	}

	cmd, rest := args[0], args[1:]
	changed, err := dispatch(ctx, cfg, svc, cmd, rest, stdout)
	if err != nil {
		return err
	}
	if changed {
		return svc.Save(ctx)
	}
	return nil
}

func dispatch(ctx context.Context, cfg config.Config, svc *core.Service, cmd string, args []string, stdout io.Writer) (bool, error) {
	switch cmd {
	case "apply":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: apply takes one manifest path", errUsage)
		}
		catalog, err := readManifest(args[0])
		if err != nil {
			return false, err
		}
		changes, err := svc.Apply(ctx, catalog)
		if err != nil {
			return false, err
		}
		_, _ = fmt.Fprintf(stdout, "work items changed: %t\njobs changed: %t\n", changes.WorkItemsChanged, changes.JobsChanged)
		return changes.Any(), nil
	case "list":
		catalog, err := svc.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		return false, writeJSON(stdout, catalog)
	case "remove-items", "remove-jobs":
		ids, err := parseIDs(args)
		if err != nil {
			return false, err
		}
		remove := svc.RemoveWorkItems
		if cmd == "remove-jobs" {
			remove = svc.RemoveJobs
		}
		changed, err := remove(ctx, ids...)
		if err != nil {
			return false, err
		}
		_, _ = fmt.Fprintf(stdout, "changed: %t\n", changed)
		return changed, nil
	case "export", "import", "archives":
		return archiveCommand(ctx, cfg, svc, cmd, args, stdout)
	default:
		return false, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func archiveCommand(ctx context.Context, cfg config.Config, svc *core.Service, cmd string, args []string, stdout io.Writer) (bool, error) {
	if want := map[string]int{"export": 0, "import": 1, "archives": 0}[cmd]; len(args) != want {
		return false, fmt.Errorf("%w: %s takes %d argument(s)", errUsage, cmd, want)
	}
	store, err := core.OpenArchive(ctx, cfg.Archive)
	if err != nil {
		return false, fmt.Errorf("open archive: %w", err)
	}
	switch cmd {
	case "export":
		info, err := svc.ExportArchive(ctx, store)
		if err != nil {
			return false, err
		}
		_, _ = fmt.Fprintln(stdout, info.Key)
		return false, nil
	case "import":
		changes, err := svc.ImportArchive(ctx, store, args[0])
		if err != nil {
			return false, err
		}
		_, _ = fmt.Fprintf(stdout, "work items changed: %t\njobs changed: %t\n", changes.WorkItemsChanged, changes.JobsChanged)
		return changes.Any(), nil
	default:
		infos, err := svc.ListArchives(ctx, store)
		if err != nil {
			return false, err
		}
		return false, writeJSON(stdout, infos)
	}
}

func readManifest(path string) (domain.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	catalog, err := domain.DecodeCatalog(f)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return catalog, nil
}

func parseIDs(args []string) ([]uint64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: at least one id required", errUsage)
	}
	ids := make([]uint64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid id %q", errUsage, a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writeMetrics prints the totals collected by recorder. Prometheus collectors
// are gathered from g and written in the text exposition format.
func writeMetrics(w io.Writer, recorder core.MetricsRecorder, g prometheus.Gatherer) error {
	switch r := recorder.(type) {
	case *core.PrometheusMetricsRecorder:
		families, err := g.Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return err
			}
		}
	case *core.ExpvarMetricsRecorder:
		return writeJSON(w, map[string]any{r.Name(): r.Snapshot()})
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
