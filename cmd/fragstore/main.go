package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/fragstore/internal/cliconfig"
	"github.com/bft-labs/fragstore/internal/configwatch"
	"github.com/bft-labs/fragstore/internal/metrics"
	"github.com/bft-labs/fragstore/internal/perstest"
	"github.com/bft-labs/fragstore/pkg/fragstore"
	"github.com/bft-labs/fragstore/pkg/log"
)

const longHelp = `Persist append-only binary atoms into fragment-limited storage backends.

Atoms larger than the backend chunk limit are split into fragments with a
small self-describing header, written asynchronously, tracked per event and
reassembled on read. The subcommands exercise a backend end to end.

Backends: memory, disk, sqlite, bolt, s3.
Configuration is read from flags, FRAGSTORE_* environment variables and a
TOML file, in that order of precedence.`

var exampleUsage = strings.TrimSpace(`
  fragstore header 1 99
  fragstore check --backend sqlite --data-dir /tmp/atoms
  fragstore width --backend bolt --data-dir /tmp/atoms --max-exp 20
  fragstore speed -n 1000 --delay 1ms --backend disk --metrics-addr :9100
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration between cobra hooks.
type cli struct {
	cfg     cliconfig.Config
	base    cliconfig.Config
	cfgPath string
	changed map[string]bool
	logger  log.Logger
	timeout time.Duration
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig(), logger: log.NoopLogger{}}

	root := &cobra.Command{
		Use:           "fragstore",
		Short:         "Persist append-only atoms into fragment-limited storage backends",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.fragstore/config.toml)")
	f.StringVar(&c.cfg.Backend, "backend", c.cfg.Backend, "storage backend: memory, disk, sqlite, bolt or s3")
	f.StringVar(&c.cfg.DataDir, "data-dir", c.cfg.DataDir, "data directory for disk, sqlite and bolt (default: $HOME/.fragstore/data)")
	f.IntVar(&c.cfg.MaxChunkSize, "max-chunk-size", c.cfg.MaxChunkSize, "fragment payload limit, at most the backend's (0 = backend default)")
	f.IntVar(&c.cfg.RetryMax, "retry-max", c.cfg.RetryMax, "retries per fragment after a transient failure")
	f.DurationVar(&c.cfg.RetryDelay, "retry-delay", c.cfg.RetryDelay, "base retry delay, multiplied by the attempt number")
	f.DurationVar(&c.cfg.RetryMaxDelay, "retry-max-delay", c.cfg.RetryMaxDelay, "cap on a single retry delay (0 = no cap)")
	f.IntVar(&c.cfg.ReadParallelism, "read-parallelism", c.cfg.ReadParallelism, "fragments fetched concurrently per read")
	f.IntVar(&c.cfg.Concurrency, "concurrency", c.cfg.Concurrency, "concurrent writes for disk and s3 (0 = backend default)")
	f.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level: debug, info, warn or error")
	f.StringVar(&c.cfg.MetricsAddr, "metrics-addr", c.cfg.MetricsAddr, "serve Prometheus metrics on this address, e.g. :9100")
	f.StringVar(&c.cfg.S3Bucket, "s3-bucket", c.cfg.S3Bucket, "S3 bucket")
	f.StringVar(&c.cfg.S3Region, "s3-region", c.cfg.S3Region, "S3 region")
	f.StringVar(&c.cfg.S3Endpoint, "s3-endpoint", c.cfg.S3Endpoint, "S3 endpoint override, e.g. a MinIO URL")
	f.StringVar(&c.cfg.S3Prefix, "s3-prefix", c.cfg.S3Prefix, "S3 object key prefix")
	f.StringVar(&c.cfg.S3AccessKeyID, "s3-access-key-id", c.cfg.S3AccessKeyID, "S3 access key ID (default: AWS credential chain)")
	f.StringVar(&c.cfg.S3SecretAccessKey, "s3-secret-access-key", c.cfg.S3SecretAccessKey, "S3 secret access key")
	if err := root.PersistentFlags().MarkHidden("s3-secret-access-key"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to hide s3-secret-access-key flag: %v\n", err)
	}
	f.DurationVar(&c.timeout, "timeout", perstest.DefaultTimeout, "how long to wait for writes to complete")

	root.AddCommand(
		c.headerCmd(),
		c.checkCmd(),
		c.widthCmd(),
		c.speedCmd(),
	)

	if err := root.Execute(); err != nil {
		c.logger.Error("fragstore", log.Err(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// load resolves the configuration: flags beat FRAGSTORE_* variables, which
// beat the config file, which beats the defaults.
func (c *cli) load(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	c.cfgPath = cfgFile

	c.changed = map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { c.changed[f.Name] = true })

	// Defaults plus flags; the config watcher re-resolves from here.
	c.base = c.cfg
	cfg, err := cliconfig.Resolve(c.base, cfgFile, c.changed)
	if err != nil {
		return err
	}
	c.cfg = cfg

	c.logger = log.NewZerologAdapter(os.Stderr, c.cfg.LogLevel)
	c.logger.Debug("configuration", log.Any("config", c.cfg.Redacted()))
	return nil
}

// session is an open store plus the services running beside it.
type session struct {
	store *fragstore.Store
	group *errgroup.Group
	ctx   context.Context
	stop  context.CancelFunc
}

// open starts a store for the configured backend and, when requested, the
// metrics endpoint.
func (c *cli) open(ctx context.Context) (*session, error) {
	ctx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	var observer fragstore.Observer
	if c.cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(c.cfg.Backend)
		observer = prom
		ln, err := net.Listen("tcp", c.cfg.MetricsAddr)
		if err != nil {
			stop()
			return nil, fmt.Errorf("listen %s: %w", c.cfg.MetricsAddr, err)
		}
		c.logger.Info("serving metrics", log.String("addr", ln.Addr().String()))
		g.Go(func() error { return prom.Serve(gctx, ln) })
	}

	store, err := fragstore.Open(ctx, fragstore.Config{
		Backend: c.cfg.BackendConfig(),
		Store:   c.cfg.StoreConfig(),
	}, fragstore.WithLogger(c.logger), fragstore.WithObserver(observer))
	if err != nil {
		stop()
		g.Wait()
		return nil, err
	}
	return &session{store: store, group: g, ctx: gctx, stop: stop}, nil
}

func (s *session) close() error {
	err := s.store.Close()
	s.stop()
	if gerr := s.group.Wait(); gerr != nil && !errors.Is(gerr, context.Canceled) && err == nil {
		err = gerr
	}
	return err
}

func (c *cli) runner(store perstest.Store) *perstest.Runner {
	r := perstest.NewRunner(store, os.Stdout, c.logger)
	r.Timeout = c.timeout
	return r
}

// withSession runs fn against a fresh store until it returns or the
// process is interrupted.
func (c *cli) withSession(fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	runErr := fn(s.ctx, s)
	if err := s.close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (c *cli) headerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "header <index> <total>",
		Short: "Encode a fragment header, print it and decode it back",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return fmt.Errorf("parse index: %w", err)
			}
			total, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("parse total: %w", err)
			}
			_, err = c.runner(nil).Header(uint32(index), uint32(total))
			return err
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Write 4, 10 and 100 byte patterned atoms and read them back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(func(ctx context.Context, s *session) error {
				results, err := c.runner(s.store).Check(ctx)
				if err != nil {
					return err
				}
				var failed int
				for _, r := range results {
					if !r.OK() {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d atoms failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func (c *cli) widthCmd() *cobra.Command {
	minExp, maxExp := perstest.DefaultMinExp, perstest.DefaultMaxExp
	cmd := &cobra.Command{
		Use:   "width",
		Short: "Write atoms of 2^min-exp to 2^max-exp bytes and read them back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(func(ctx context.Context, s *session) error {
				results, err := c.runner(s.store).Width(ctx, minExp, maxExp)
				if err != nil {
					return err
				}
				for _, r := range results {
					if !r.OK() {
						return fmt.Errorf("width 2^%d failed", r.Exp)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&minExp, "min-exp", minExp, "smallest atom, as a power of two")
	cmd.Flags().IntVar(&maxExp, "max-exp", maxExp, "largest atom, as a power of two")
	return cmd
}

func (c *cli) speedCmd() *cobra.Command {
	opts := perstest.SpeedOptions{Count: 100}
	var watch bool
	cmd := &cobra.Command{
		Use:   "speed",
		Short: "Write many small atoms and report per-event write latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(func(ctx context.Context, s *session) error {
				if watch {
					w := configwatch.New(configwatch.Config{
						Path:    c.cfgPath,
						Base:    c.base,
						Changed: c.changed,
					}, s.store, c.logger)
					s.group.Go(func() error {
						if err := w.Run(ctx); err != nil {
							c.logger.Warn("config watcher stopped", log.Err(err))
						}
						return nil
					})
				}

				report, err := c.runner(s.store).Speed(ctx, opts)
				if err != nil {
					return err
				}
				if report.Mismatches > 0 || report.Failed > 0 || len(report.Stragglers) > 0 {
					return fmt.Errorf("speed test: %d failed, %d pending, %d mismatched",
						report.Failed, len(report.Stragglers), report.Mismatches)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&opts.Count, "count", "n", opts.Count, "number of atoms to write")
	cmd.Flags().DurationVar(&opts.Delay, "delay", opts.Delay, "pause between writes")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the retry policy when the config file changes")
	return cmd
}
