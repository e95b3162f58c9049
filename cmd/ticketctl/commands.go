package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/app"
	"github.com/robertarktes/event-ticketing/internal/config"
	apihttp "github.com/robertarktes/event-ticketing/internal/http"
	"github.com/spf13/cobra"
)

type opener func(ctx context.Context) (*app.App, error)

func newRootCmd(open opener, loadConfig func() (*config.Config, error)) *cobra.Command {
	root := &cobra.Command{
		Use:          "ticketctl",
		Short:        "Operator tooling for the ticketing store",
		SilenceUsage: true,
	}
	root.AddCommand(
		failPurchaseCmd(open),
		sweepCmd(open),
		checkDuplicatesCmd(open),
		auditInventoryCmd(open),
		statsCmd(open),
		checkAuditCmd(open),
		issueTokenCmd(loadConfig),
	)
	return root
}

// withApp opens the app for the duration of one command.
func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx)
	if a != nil {
		defer a.Close()
	}
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func failPurchaseCmd(open opener) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail-purchase <purchase-id>",
		Short: "Fail a pending purchase and release what it holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "purchase id")
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				p, err := a.Machine.Fail(ctx, id, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purchase %s is %s\n", p.ID, p.PaymentStatus)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "failed by operator", "reason recorded in the log")
	return cmd
}

func sweepCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail one batch of purchases pending longer than PURCHASE_TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				n, err := a.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale purchase(s)\n", n)
				return nil
			})
		},
	}
}

func checkDuplicatesCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "check-duplicates",
		Short: "List purchases holding more tickets than they paid for",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				found, err := a.Store.FindOverIssued(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(found) == 0 {
					fmt.Fprintln(out, "no over-issued purchases")
					return nil
				}
				for _, p := range found {
					fmt.Fprintf(out, "%s\tquantity=%d\ttickets=%d\n", p.PurchaseID, p.Quantity, p.Tickets)
				}
				return errors.Newf("%d over-issued purchase(s)", len(found))
			})
		},
	}
}

func auditInventoryCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "audit-inventory",
		Short: "Compare reserved counters with the quantity held by live purchases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				drift, err := a.Store.InventoryDrift(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(drift) == 0 {
					fmt.Fprintln(out, "inventory counters match")
					return nil
				}
				for _, d := range drift {
					fmt.Fprintf(out, "%s\t%s\treserved=%d\theld=%d\n", d.TicketTypeID, d.Name, d.Reserved, d.Held)
				}
				return errors.Newf("%d ticket type(s) drifted", len(drift))
			})
		},
	}
}

func statsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <event-id>",
		Short: "Print check-in statistics for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "event id")
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				s, err := a.Gate.Stats(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "total=%d checked_in=%d valid=%d cancelled=%d percentage=%.2f\n",
					s.Total, s.CheckedIn, s.Valid, s.Cancelled, s.Percentage)
				return nil
			})
		},
	}
}

// checkAuditCmd compares the Mongo check-in mirror with the authoritative
// check_ins rows of one event.
func checkAuditCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "check-audit <event-id>",
		Short: "Compare mirrored check-ins in MongoDB with the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "event id")
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				if a.AuditLog == nil {
					return errors.New("MONGO_URI is not set")
				}
				stats, err := a.Gate.Stats(ctx, id)
				if err != nil {
					return err
				}
				mirrored, err := a.AuditLog.CheckInsByEvent(ctx, id, 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "store=%d mirror=%d\n", stats.CheckedIn, len(mirrored))
				if len(mirrored) != stats.CheckedIn {
					return errors.Newf("audit mirror is missing %d check-in(s)", stats.CheckedIn-len(mirrored))
				}
				return nil
			})
		},
	}
}

func issueTokenCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		role  string
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token <subject>",
		Short: "Mint an API bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case apihttp.RoleBuyer, apihttp.RoleDoor, apihttp.RoleOrganizer, apihttp.RoleAdmin:
			default:
				return errors.Newf("unknown role %q", role)
			}
			if role == apihttp.RoleBuyer {
				if _, err := uuid.Parse(args[0]); err != nil {
					return errors.Wrap(err, "buyer subject must be a uuid")
				}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := apihttp.NewAuthenticator(cfg.JWTSecret).Issue(args[0], role, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", apihttp.RoleDoor, "buyer, door, organizer or admin")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
