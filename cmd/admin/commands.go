package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/auth"
	"github.com/fidelis-church/fidelis-backend/internal/config"
	"github.com/fidelis-church/fidelis-backend/internal/db"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/logging"
	"github.com/fidelis-church/fidelis-backend/internal/migrations"
	"github.com/fidelis-church/fidelis-backend/internal/seeds"
	"github.com/fidelis-church/fidelis-backend/internal/visitors"
)

// RootOptions holds global flags.
type RootOptions struct {
	Verbose bool
}

// env is what every database command needs once flags are parsed.
type env struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB
}

func (e *env) close() {
	_ = db.Close(e.db)
	_ = e.log.Sync()
}

// connect is swapped in tests so commands can be checked without Postgres.
var connect = func(ctx context.Context, opts *RootOptions) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	log, err := logging.New(level, cfg.LogDev)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{MaxOpenConns: 2}, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, db: gdb}, nil
}

// NewRootCommand builds the admin command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Fidelis maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newAddUserCommand(opts))
	cmd.AddCommand(newResetPasswordCommand(opts))
	cmd.AddCommand(newPurgeVisitorCommand(opts))
	return cmd
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema and data migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			applied, err := migrations.NewRunner(e.db, migrations.Default(), e.log).Apply(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to apply")
				return nil
			}
			for _, id := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and when they ran",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			statuses, err := migrations.NewRunner(e.db, migrations.Default(), e.log).Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tAPPLIED\tDESCRIPTION")
			for _, s := range statuses {
				when := "pending"
				if s.Applied() {
					when = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, when, s.Description)
			}
			return tw.Flush()
		},
	})

	return cmd
}

func newSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert development staff accounts and the sample visitor month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			if e.cfg.Env == "production" {
				return errors.New("refusing to seed a production database")
			}
			res, err := seeds.SeedAll(cmd.Context(), e.db, e.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staff: %d created, %d skipped\nvisitors: %d created, %d skipped\n",
				res.StaffCreated, res.StaffSkipped, res.VisitorsCreated, res.VisitorsSkipped)
			return nil
		},
	}
}

func newAddUserCommand(opts *RootOptions) *cobra.Command {
	var n auth.NewUser

	cmd := &cobra.Command{
		Use:   "adduser <username>",
		Short: "Create a staff account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n.Username = args[0]
			if len(n.Password) < 8 {
				return fmt.Errorf("%w: password must be at least 8 characters", auth.ErrInvalidUser)
			}
			if _, err := (auth.Assignment{Role: n.Role, City: n.City, AssignedMonth: n.AssignedMonth}).Check(); err != nil {
				return err
			}

			e, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			u, err := auth.CreateUser(cmd.Context(), e.db, n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", u.Username, u.Role, u.UserID)
			return nil
		},
	}
	cmd.Flags().StringVar(&n.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&n.Role, "role", string(access.RoleAccueil), "one of super_admin, pasteur, superviseur, referent, accueil")
	cmd.Flags().StringVar(&n.City, "city", "", "city the account is tied to")
	cmd.Flags().StringVar(&n.AssignedMonth, "month", "", "assigned month (YYYY-MM), referents only")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newResetPasswordCommand(opts *RootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "resetpassword <username>",
		Short: "Set a new password and revoke the user's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(password) < 8 {
				return fmt.Errorf("%w: password must be at least 8 characters", auth.ErrInvalidUser)
			}
			e, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			if err := auth.ResetPassword(cmd.Context(), e.db, args[0], password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password reset for", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newPurgeVisitorCommand(opts *RootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "purge-visitor <visitor-id>",
		Short: "Delete a visitor and their attendance history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid visitor id %q: %w", args[0], err)
			}
			if !confirm {
				return errors.New("purge is permanent; pass --confirm")
			}

			e, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			svc := visitors.NewService(visitors.NewGormStore(e.db), fidelity.NewAggregator(e.cfg.Fidelity), e.log)
			operator := access.Principal{UserID: "admin-cli", Role: access.RoleSuperAdmin}
			if err := svc.Purge(cmd.Context(), operator, id.String()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "purged", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "required, the deletion cannot be undone")
	return cmd
}
