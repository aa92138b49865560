package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ayo6706/fraudflow/internal/api/middleware"
	"github.com/ayo6706/fraudflow/internal/app"
	"github.com/ayo6706/fraudflow/internal/config"
	"github.com/ayo6706/fraudflow/internal/db"
	"github.com/ayo6706/fraudflow/internal/messaging"
	"github.com/ayo6706/fraudflow/internal/repository"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runtime carries what every database-backed command needs.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *repository.Store
	close  func()
}

func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  repository.NewStore(pool),
		close: func() {
			pool.Close()
			_ = logger.Sync()
		},
	}, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema migrations",
	}
	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := app.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			m, err := db.NewMigrator(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer m.Close()
			if down {
				return m.Down()
			}
			return m.Up()
		}
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  run(false),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE:  run(true),
	})
	return cmd
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run a single outbox relay tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			publisher := messaging.NewKafkaPublisher(rt.cfg.KafkaBrokers)
			defer publisher.Close()

			res, err := app.NewRelay(rt.cfg, rt.store, publisher).RelayTick(ctx)
			if err != nil {
				return fmt.Errorf("relay tick: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claimed=%d sent=%d retried=%d failed=%d\n", res.Claimed, res.Sent, res.Retried, res.Failed)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	var batch int32
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Replay retryable settlements once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if batch <= 0 {
				batch = rt.cfg.SettlementBatchSize
			}
			res, err := app.NewSettlement(rt.cfg, rt.store).RetryFailed(ctx, batch)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d applied=%d failed=%d skipped=%d\n", res.Scanned, res.Applied, res.Failed, res.Skipped)
			return nil
		},
	}
	cmd.Flags().Int32Var(&batch, "batch", 0, "maximum transfers to replay (defaults to SETTLEMENT_BATCH_SIZE)")
	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and requeue failed outbox entries",
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List outbox entries that exhausted their attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			entries, err := app.NewRelay(rt.cfg, rt.store, nil).ListFailed(ctx, limit)
			if err != nil {
				return fmt.Errorf("list failed outbox: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAGGREGATE\tTOPIC\tATTEMPTS\tLAST ERROR")
			for _, e := range entries {
				lastErr := ""
				if e.LastError != nil {
					lastErr = *e.LastError
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.AggregateID, e.Topic, e.AttemptCount, lastErr)
			}
			return w.Flush()
		},
	}
	failed.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to list")

	var actor string
	retry := &cobra.Command{
		Use:   "retry [id]",
		Short: "Requeue a FAILED outbox entry for the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid outbox id %q: %w", args[0], err)
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			relay := app.NewRelay(rt.cfg, rt.store, nil)
			if err := relay.RetryFailed(ctx, id, actor); err != nil {
				return fmt.Errorf("retry outbox %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "outbox %s requeued\n", id)
			return nil
		},
	}
	retry.Flags().StringVar(&actor, "actor", "fraudctl", "actor recorded in the audit log")

	cmd.AddCommand(failed, retry)
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for the operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.RequireJWTSecret(); err != nil {
				return err
			}
			auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
			token, err := auth.IssueToken(subject, role, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", middleware.RoleOperator, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
