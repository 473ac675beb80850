// statehist builds and queries attribute state histories.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

const usage = `usage: statehist [flags] <command> [args]

commands:
  import   build a history from a change log
  info     describe a history
  query    states at one time
  range    intervals of one attribute
  export   write a history to Parquet
  sql      query Parquet exports with SQL
  stats    interval duration statistics
  dump     write a statedump
  restore  start a history from a statedump
  plan     estimate the footprint of a history
  shell    interactive queries
  version  print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "statehist: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	cfg *config.Config
	in  io.Reader
	out io.Writer
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("statehist", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("config", "", "config file path")
	dataDir := fs.String("data-dir", "", "history directory (overrides config)")
	backend := fs.String("backend", "", "backend kind (overrides config)")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", false, "log as JSON")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return errors.NewValidation("log-level", *logLevel)
	}
	logging.Init(level, *logJSON)

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *backend != "" {
		cfg.Backend.Kind = *backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	a := &app{cfg: cfg, in: in, out: out}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	logging.Component("cli").Debug("running command",
		"command", cmd,
		"data_dir", cfg.DataDir,
		"backend", cfg.Backend.Kind,
	)

	switch cmd {
	case "import":
		return a.cmdImport(ctx, rest)
	case "info":
		return a.cmdInfo(rest)
	case "query":
		return a.cmdQuery(rest)
	case "range":
		return a.cmdRange(ctx, rest)
	case "export":
		return a.cmdExport(ctx, rest)
	case "sql":
		return a.cmdSQL(ctx, rest)
	case "stats":
		return a.cmdStats(ctx, rest)
	case "dump":
		return a.cmdDump(rest)
	case "restore":
		return a.cmdRestore(rest)
	case "plan":
		return a.cmdPlan(rest)
	case "shell":
		return a.cmdShell(rest)
	case "version":
		fmt.Fprintf(out, "statehist %s\n", Version)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
