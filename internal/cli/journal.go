package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lemonstate/devtools/journal"
)

// JournalOptions holds flags for the journal commands.
type JournalOptions struct {
	*RootOptions
	DB string // path to the journal database
}

// NewJournalCommand creates the journal command and its subcommands.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect a recorded devtools journal",
		Long: `Inspect a SQLite journal written by the devtools journal bridge.

Examples:
  lemonstate journal list --db ./devtools.db
  lemonstate journal show --db ./devtools.db 0190c2e4-...`,
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to the journal database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newJournalListCommand(opts))
	cmd.AddCommand(newJournalShowCommand(opts))

	return cmd
}

func newJournalListCommand(opts *JournalOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List recorded sessions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(opts, cmd)
			if err != nil {
				return err
			}
			defer j.Close()

			sessions, err := j.Sessions(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sessions", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: sessions})
			}
			outputSessionsText(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func newJournalShowCommand(opts *JournalOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <session-id>",
		Short:         "Show the entries of one session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			j, err := openJournal(opts, cmd)
			if err != nil {
				return err
			}
			defer j.Close()

			sessions, err := j.Sessions(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sessions", err)
			}
			info, ok := findSession(sessions, sessionID)
			if !ok {
				if opts.Format == "json" {
					_ = writeJSON(cmd.OutOrStdout(), CLIResponse{
						Status: "error",
						Error: &CLIError{
							Code:    "E_NOT_FOUND",
							Message: fmt.Sprintf("session %s not found", sessionID),
						},
					})
				}
				return NewExitError(ExitCommandError, fmt.Sprintf("session %s not found", sessionID))
			}

			entries, err := j.Entries(cmd.Context(), sessionID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read entries", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), CLIResponse{
					Status: "ok",
					Data: map[string]any{
						"session": info,
						"entries": entries,
					},
				})
			}
			outputEntriesText(cmd.OutOrStdout(), info, entries, opts.Verbose)
			return nil
		},
	}
}

// openJournal opens an existing journal. A missing file is a command error
// rather than a fresh empty database.
func openJournal(opts *JournalOptions, cmd *cobra.Command) (*journal.Journal, error) {
	if _, err := os.Stat(opts.DB); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.DB))
	}
	j, err := journal.Open(opts.DB, journal.WithLogger(opts.logger(cmd)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

func findSession(sessions []journal.SessionInfo, id string) (journal.SessionInfo, bool) {
	for _, s := range sessions {
		if s.ID == id {
			return s, true
		}
	}
	return journal.SessionInfo{}, false
}

func outputSessionsText(w io.Writer, sessions []journal.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	fmt.Fprintf(w, "Sessions (%d):\n", len(sessions))
	for _, s := range sessions {
		kind := ""
		if s.Jump {
			kind = " [jump]"
		}
		fmt.Fprintf(w, "  %s  %s%s  entries=%d seq=%d..%d\n",
			truncateID(s.ID), s.Name, kind, s.Entries, s.OpenedSeq, s.LastSeq)
	}
}

func outputEntriesText(w io.Writer, info journal.SessionInfo, entries []journal.Entry, verbose bool) {
	fmt.Fprintf(w, "Session: %s (%s)\n", info.ID, info.Name)
	fmt.Fprintf(w, "Entries: %d\n", len(entries))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Entries ===")
	for _, e := range entries {
		label := e.Kind
		if e.Action != "" {
			label = fmt.Sprintf("%s %s", e.Kind, e.Action)
		}
		fmt.Fprintf(w, "  [%d] %s %s\n", e.Seq, label, e.State)
		if verbose {
			fmt.Fprintf(w, "       Hash: %s\n", truncateID(e.StateHash))
		}
	}
}

// truncateID shortens an identifier for display.
func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
