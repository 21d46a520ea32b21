package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
	"github.com/yuya-takeyama/trusted-dedup/internal/config"
	"github.com/yuya-takeyama/trusted-dedup/internal/logging"
	"github.com/yuya-takeyama/trusted-dedup/internal/s3client"
	"github.com/yuya-takeyama/trusted-dedup/internal/worker"
	"github.com/yuya-takeyama/trusted-dedup/pkg/confirm"
	"github.com/yuya-takeyama/trusted-dedup/pkg/dedup"
	"github.com/yuya-takeyama/trusted-dedup/pkg/report"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

const (
	maxExitCode    = 254
	exitUsageError = 255
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// app holds the streams and outcome of one invocation
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer
	cfgFile        string
	exitCode       int
}

// execute runs the command line and returns the process exit code: the
// number of deleted files, or 255 when the invocation itself is wrong
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	cmd := a.newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsageError
	}
	return a.exitCode
}

func (a *app) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trusted-dedup [flags] [TrustedPath] <UnknownPath>",
		Short: "Delete files that duplicate files of a trusted folder",
		Long: `trusted-dedup deletes files of an unknown folder that have the same size and
checksum as a file of a trusted folder. Files of the trusted folder are never
touched. Without a trusted folder, only duplicates inside the unknown folder
are removed, keeping the first one found.

The trusted path may also be an S3 archive (s3://bucket/prefix); stored object
checksums are compared instead of downloading the objects.

The exit code is the number of deleted files (at most 254), or 255 for
invalid arguments.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:          cobra.RangeArgs(1, 2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          a.run,
	}

	d := config.Default()
	flags := cmd.Flags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (default ./trusted-dedup.yaml)")
	flags.Bool("recurse", d.RecurseSubfolders, "Descend into subfolders")
	flags.Bool("hidden", d.IncludeHidden, "Include hidden files and folders")
	flags.Bool("empty", d.IncludeEmptyFiles, "Include zero-byte files")
	flags.Bool("delete-readonly", d.AllowReadOnlyDelete, "Allow deleting read-only files")
	flags.Bool("delete-hidden", d.AllowHiddenDelete, "Allow deleting hidden files")
	flags.Bool("dryrun", d.SimulateOnly, "Shows deletions without executing")
	flags.Bool("debug", d.Debug, "Print a trace line for every file")
	flags.Bool("interactive", d.Interactive, "Ask before each deletion")
	flags.Bool("quiet", d.Quiet, "Only print the summary")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.String("algorithm", d.Algorithm, fmt.Sprintf("Checksum algorithm %v", checksum.Algorithms()))
	flags.String("log-format", d.LogFormat, "Diagnostic log format (text or json)")
	flags.String("log-level", d.LogLevel, "Diagnostic log level (debug, info, warn, error)")
	flags.Duration("progress-interval", d.ProgressInterval, "Log progress at this interval (0 disables)")
	flags.String("result-json-file", "", "Path to output result as JSON file")
	flags.String("profile", "", "AWS profile to use for s3:// trusted paths")
	flags.String("region", "", "AWS region (uses default if not specified)")

	return cmd
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, a.stderr)
	logger := logging.L("cli")

	req := dedup.Request{UnknownRoot: args[len(args)-1]}
	if len(args) == 2 {
		req.TrustedRoot = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sink report.Sink = report.NewWriter(a.stdout)
	if cfg.Quiet {
		sink = report.NullSink{}
	}

	options := []dedup.Option{
		dedup.WithSink(sink),
		dedup.WithProgress(func(path string, done, total int64) {
			logger.Debug("checksum progress", logging.KeyPath, path,
				"done", humanize.IBytes(uint64(done)), "total", humanize.IBytes(uint64(total)))
		}),
	}

	if cfg.Interactive {
		prompt := confirm.NewPrompt(a.stdin, a.stdout, cancel)
		options = append(options, dedup.WithConfirmer(confirm.NewSticky(prompt)))
	}

	var journal *report.Journal
	if cfg.ResultJSONFile != "" {
		journal = report.NewJournal()
		options = append(options, dedup.WithJournal(journal))
	}

	if s3client.IsS3URI(req.TrustedRoot) {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return err
		}
		options = append(options, dedup.WithArchive(client))
	}

	alg, err := checksum.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return err
	}
	engine := dedup.New(dedup.Options{
		RecurseSubfolders:   cfg.RecurseSubfolders,
		IncludeHidden:       cfg.IncludeHidden,
		IncludeEmptyFiles:   cfg.IncludeEmptyFiles,
		AllowReadOnlyDelete: cfg.AllowReadOnlyDelete,
		AllowHiddenDelete:   cfg.AllowHiddenDelete,
		SimulateOnly:        cfg.SimulateOnly,
		Debug:               cfg.Debug,
		Excludes:            cfg.Excludes,
		Algorithm:           alg,
	}, options...)

	job := worker.Start(ctx, engine, req)
	if cfg.ProgressInterval > 0 {
		go logProgress(job, cfg.ProgressInterval)
	}

	snap, err := job.Wait()
	if errors.Is(err, dedup.ErrConfig) {
		return err
	}
	cancelled := errors.Is(err, context.Canceled)
	switch {
	case err == nil, cancelled:
	case errors.Is(err, worker.ErrFatal):
		logger.Error("run failed", logging.KeyError, err)
	default:
		logger.Error("run aborted", logging.KeyError, err)
	}

	if cfg.Quiet {
		for _, line := range snap.SummaryLines(cancelled) {
			fmt.Fprintln(a.stdout, line)
		}
	}

	if journal != nil {
		if err := report.WriteResult(cfg.ResultJSONFile, journal.Result(snap, cancelled)); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	a.exitCode = int(min(snap.DeletedFiles, maxExitCode))
	return nil
}

func newS3Client(ctx context.Context, cfg *config.Config) (*s3client.Client, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSProfile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	if cfg.AWSRegion != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3client.NewClient(awsCfg), nil
}

func logProgress(job *worker.Job, interval time.Duration) {
	logger := logging.L("progress")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-job.Done():
			return
		case <-ticker.C:
			logger.Info(job.Stats().Progress())
		}
	}
}
