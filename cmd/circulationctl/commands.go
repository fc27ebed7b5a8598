package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/listenupapp/circulation-server/internal/service"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default categories if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDesk(cmd, func(ctx context.Context, d *desk) error {
				n, err := d.catalog.SeedDefaults(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d categories\n", n)
				return nil
			})
		},
	}
}

func newOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List overdue lends, most overdue first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDesk(cmd, func(ctx context.Context, d *desk) error {
				overdue, err := d.transactions.ListOverdue(ctx)
				if err != nil {
					return err
				}
				printOverdue(cmd.OutOrStdout(), overdue)
				return nil
			})
		},
	}
}

func printOverdue(w io.Writer, overdue []service.OverdueView) {
	if len(overdue) == 0 {
		fmt.Fprintln(w, "No overdue lends")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSACTION\tTITLE\tBORROWER\tDUE\tDAYS\tFINE\tCONTACTED")
	for _, o := range overdue {
		contacted := "no"
		if o.ContactedAt != nil {
			contacted = o.ContactedAt.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			o.ID, o.Title, o.BorrowerName, o.DueDate.Format("2006-01-02"),
			o.OverdueDays, o.AccruedFine, contacted)
	}
	_ = tw.Flush()
}

func newReconcileCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare book statuses with the lend ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDesk(cmd, func(ctx context.Context, d *desk) error {
				report, err := d.circulation.Reconcile(ctx, fix)
				if err != nil {
					return err
				}
				printReconcile(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "Repair statuses that disagree with the ledger")
	return cmd
}

func printReconcile(w io.Writer, report *service.ReconcileReport) {
	fmt.Fprintf(w, "Checked %d books, %d open lends\n", report.BooksChecked, report.OpenLends)
	if len(report.Issues) == 0 {
		fmt.Fprintln(w, "No issues found")
		return
	}
	for _, issue := range report.Issues {
		state := "reported"
		switch {
		case issue.Fixed:
			state = "fixed"
		case issue.FixError != "":
			state = "fix failed: " + issue.FixError
		}
		fmt.Fprintf(w, "  %s %q: %s (%s)\n", issue.BookID, issue.Title, issue.Kind, state)
	}
}

func newForceAvailableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-available <book-id>",
		Short: "Mark a book available when no lend is open for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd, func(ctx context.Context, d *desk) error {
				book, previous, err := d.circulation.ForceAvailable(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%q: %s -> %s\n", book.Title, previous, book.Status)
				return nil
			})
		},
	}
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the bcrypt hash of a fine waiver key for WAIVER_KEY_HASH",
		Long: "Print the bcrypt hash of a fine waiver key. Without an argument the key\n" +
			"is read from the terminal without echo, or from stdin when piped.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				var err error
				if key, err = readKey(cmd); err != nil {
					return err
				}
			}

			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("waiver key cannot be empty")
			}

			hash, err := service.HashWaiverKey(key)
			if err != nil {
				return fmt.Errorf("hash waiver key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readKey prompts with echo disabled on a terminal and reads one line otherwise.
func readKey(cmd *cobra.Command) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read key: %w", err)
		}
		return line, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Waiver key: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return string(raw), nil
}
