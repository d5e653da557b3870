// Package cli implements the screenbug command line: record the screen, analyze stored recordings,
// mint API tokens and inspect failed jobs.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/screenbug/backend/config"
	"github.com/screenbug/backend/internal/app"
	"github.com/screenbug/backend/internal/auth"
	"github.com/screenbug/backend/internal/capture"
	"github.com/screenbug/backend/internal/pipeline"
	"github.com/screenbug/backend/pkg/database"
	"github.com/screenbug/backend/pkg/queue"
	"github.com/screenbug/backend/pkg/redis"
)

type globals struct {
	debug bool
}

func NewRootCommand() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "screenbug",
		Short: "Record the screen and turn it into an AI-written bug report",
	}
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newRecordCmd(g),
		newAnalyzeCmd(g),
		newTokenCmd(),
		newDLQCmd(g),
	)
	return rootCmd
}

// Execute runs the root command and prints the error, if any.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), "%v", err)
		return 1
	}
	return 0
}

// openPipeline connects Postgres and S3 and builds the orchestrator. The returned func releases them.
func openPipeline(ctx context.Context, cfg *config.Config, observer pipeline.Observer, logger *zap.Logger) (*pipeline.Orchestrator, func(), error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	store, err := app.NewStore(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("s3: %w", err)
	}
	orch, err := app.NewOrchestrator(ctx, cfg, pool, store, observer, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return orch, pool.Close, nil
}

func newRecordCmd(g *globals) *cobra.Command {
	var (
		title       string
		maxDuration time.Duration
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:     "record",
		Aliases: []string{"rec"},
		Short:   "Capture the screen until Enter or Ctrl+C, then analyze it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.NewLogger(g.debug)
			defer logger.Sync()

			ctx := cmd.Context()
			orch, closeFn, err := openPipeline(ctx, cfg, progress(cmd.ErrOrStderr()), logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if maxDuration <= 0 {
				maxDuration = cfg.Capture.MaxDuration()
			}
			source := capture.NewFFmpegSource(capture.FFmpegConfig{
				Binary:      cfg.Capture.FFmpegPath,
				InputFormat: cfg.Capture.InputFormat,
				Input:       cfg.Capture.Input,
				FrameRate:   cfg.Capture.FrameRate,
			}, logger)
			ctrl := capture.NewController(source, maxDuration, logger)

			stop := stopSignal(cmd)
			fmt.Fprintf(cmd.ErrOrStderr(), "Recording (max %s). Press Enter or Ctrl+C to stop.\n", maxDuration)
			res, err := orch.Run(ctx, title, pipeline.RecorderFunc(func(ctx context.Context) (capture.Blob, error) {
				return ctrl.Record(ctx, stop)
			}))
			if err != nil {
				if errors.Is(err, pipeline.ErrCapture) && errors.Is(err, capture.ErrAcquire) {
					printHint(cmd.ErrOrStderr(), "check FFMPEG_PATH and CAPTURE_INPUT, and grant screen recording permission")
				}
				return err
			}
			printResult(cmd.OutOrStdout(), res, !quiet)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Report title (default: untitled)")
	cmd.Flags().DurationVarP(&maxDuration, "max-duration", "d", 0, "Hard capture limit (default: CAPTURE_MAX_DURATION_SEC)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the report markdown")
	return cmd
}

// stopSignal closes the returned channel on the first line of input or SIGINT/SIGTERM.
func stopSignal(cmd *cobra.Command) <-chan struct{} {
	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	line := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		close(line)
	}()
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
		case <-line:
		case <-cmd.Context().Done():
		}
		close(stop)
	}()
	return stop
}

func newAnalyzeCmd(g *globals) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:     "analyze <recording-id>",
		Aliases: []string{"a"},
		Short:   "Analyze a stored recording and save its bug report",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordingID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid recording id %q", args[0])
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.NewLogger(g.debug)
			defer logger.Sync()

			orch, closeFn, err := openPipeline(cmd.Context(), cfg, progress(cmd.ErrOrStderr()), logger)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := orch.Analyze(cmd.Context(), recordingID)
			if err != nil {
				if errors.Is(err, pipeline.ErrAlreadyFinalized) {
					printHint(cmd.ErrOrStderr(), "recording %s already has a report", recordingID)
				}
				return err
			}
			printResult(cmd.OutOrStdout(), res, !quiet)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the report markdown")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var subject, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed API token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("subject cannot be empty")
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Token subject (user or integration name)")
	cmd.Flags().StringVarP(&role, "role", "r", auth.RoleUser, "Role: user, integration or admin")
	return cmd
}

func newDLQCmd(g *globals) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List failed analysis jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.NewLogger(g.debug)
			defer logger.Sync()

			rdb, err := redis.NewClient(cmd.Context(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
			if err != nil {
				return err
			}
			defer rdb.Close()
			return listDeadLetters(cmd, queue.NewQueue(rdb.Client, logger), limit)
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "Maximum number of jobs to list")
	return cmd
}

func listDeadLetters(cmd *cobra.Command, q *queue.Queue, limit int64) error {
	jobs, err := q.DeadLetters(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("read dead letters: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		printOK(out, "No failed jobs")
		return nil
	}
	for _, job := range jobs {
		failedAt := "-"
		if job.FailedAt != nil {
			failedAt = job.FailedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s  %s  %s  %s\n", job.ID, job.Type, failedAt, job.Error)
	}
	return nil
}
