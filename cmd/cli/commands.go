package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/nimasrn/deposit-gateway/internal/config"
	"github.com/nimasrn/deposit-gateway/internal/repository"
	"github.com/nimasrn/deposit-gateway/pkg/pg"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type cliOptions struct {
	envPath string
	dir     string
}

// openDB is swapped in tests.
var openDB = func(cfg *config.Config) (*pg.DB, func(), error) {
	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "deposit-cli",
		Short:         "Administration for the deposit gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := opts.envPath
			if path == "" {
				if _, err := os.Stat(".env"); err == nil {
					path = ".env"
				}
			}
			return config.Load(path)
		},
	}
	root.PersistentFlags().StringVar(&opts.envPath, "env", "", "path to the env file (defaults to ./.env when present)")

	root.AddCommand(newMigrateCmd(opts), newLimitsCmd(), newUsersCmd())
	return root
}

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", "./migrations", "migration directory")

	run := func(fn func(pg.Config, string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.dir); err != nil {
				return errors.Wrapf(err, "migration directory %s", opts.dir)
			}
			return fn(config.Get().PostgresWrite(), opts.dir)
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(pg.Migrate)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", Args: cobra.NoArgs, RunE: run(pg.Rollback)},
		&cobra.Command{Use: "status", Short: "Print migration status", Args: cobra.NoArgs, RunE: run(pg.MigrationStatus)},
	)
	return cmd
}

func newLimitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Manage daily deposit limit tiers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <daily-limit>",
		Short: "Create a tier or change its daily limit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil || amount.IsNegative() {
				return errors.Errorf("invalid daily limit %q", args[1])
			}
			return withDB(func(ctx context.Context, db *pg.DB) error {
				l, err := repository.NewDepositLimitRepository(db).Upsert(ctx, args[0], amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tier %d %s daily limit %s\n", l.ID, l.Name, l.DailyLimit.StringFixed(2))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List limit tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *pg.DB) error {
				limits, err := repository.NewDepositLimitRepository(db).List(ctx)
				if err != nil {
					return err
				}
				w := table(cmd.OutOrStdout())
				fmt.Fprintln(w, "ID\tNAME\tDAILY LIMIT")
				for _, l := range limits {
					fmt.Fprintf(w, "%d\t%s\t%s\n", l.ID, l.Name, l.DailyLimit.StringFixed(2))
				}
				return w.Flush()
			})
		},
	})
	return cmd
}

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users and their limit tier",
	}

	var tier int64
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a user with a zero balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, db *pg.DB) error {
				var limitID *int64
				if tier > 0 {
					limitID = &tier
				}
				u, err := repository.NewUserRepository(db).Create(ctx, args[0], limitID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d %s created\n", u.ID, u.Name)
				return nil
			})
		},
	}
	create.Flags().Int64Var(&tier, "limit", 0, "deposit limit tier id")

	assign := &cobra.Command{
		Use:   "assign-limit <user-id> <tier-id>",
		Short: "Move a user to another limit tier, 0 removes the tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("invalid user id %q", args[0])
			}
			tierID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || tierID < 0 {
				return errors.Errorf("invalid tier id %q", args[1])
			}
			return withDB(func(ctx context.Context, db *pg.DB) error {
				var limitID *int64
				if tierID > 0 {
					if _, err := repository.NewDepositLimitRepository(db).GetByID(ctx, tierID); err != nil {
						return err
					}
					limitID = &tierID
				}
				if err := repository.NewUserRepository(db).AssignDepositLimit(ctx, userID, limitID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d assigned to tier %d\n", userID, tierID)
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user with tier and balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("invalid user id %q", args[0])
			}
			return withDB(func(ctx context.Context, db *pg.DB) error {
				u, err := repository.NewUserRepository(db).GetByID(ctx, userID)
				if err != nil {
					return err
				}
				tierName, dailyLimit := "-", "-"
				if u.DepositLimitID != nil {
					l, err := repository.NewDepositLimitRepository(db).GetByID(ctx, *u.DepositLimitID)
					if err != nil {
						return err
					}
					tierName, dailyLimit = l.Name, l.DailyLimit.StringFixed(2)
				}

				// users inserted outside this tool may lack a balance row
				balances := repository.NewBalanceRepository(db)
				if err := balances.EnsureExists(ctx, u.ID); err != nil {
					return err
				}
				b, err := balances.Get(ctx, u.ID)
				if err != nil {
					return err
				}

				w := table(cmd.OutOrStdout())
				fmt.Fprintln(w, "ID\tNAME\tTIER\tDAILY LIMIT\tBALANCE")
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Name, tierName, dailyLimit, b.Balance.StringFixed(2))
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(create, assign, show)
	return cmd
}

func withDB(fn func(ctx context.Context, db *pg.DB) error) error {
	db, closeDB, err := openDB(config.Get())
	if err != nil {
		return errors.Wrap(err, "failed connecting to pg")
	}
	defer closeDB()
	return fn(context.Background(), db)
}

func table(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}
