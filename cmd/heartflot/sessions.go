package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/heartflot/internal/session"
	"github.com/srg/heartflot/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"history"},
	Short:   "Browse and edit recorded sessions",
	Long: `List, show, annotate and delete recorded sessions.

Sessions can be referenced by full ID or by any unique ID prefix, as
printed by 'heartflot sessions list'.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session with its samples",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsNoteCmd = &cobra.Command{
	Use:   "note <id> <text>",
	Short: "Set the note on a session (empty text clears it)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsNote,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClear,
}

var (
	sessionsFormat string
	sessionsYes    bool
)

func init() {
	sessionsListCmd.Flags().StringVarP(&sessionsFormat, "format", "f", "table", "Output format (table, json)")
	sessionsShowCmd.Flags().StringVarP(&sessionsFormat, "format", "f", "table", "Output format (table, json)")
	sessionsClearCmd.Flags().BoolVarP(&sessionsYes, "yes", "y", false, "Do not ask for confirmation")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsNoteCmd, sessionsClearCmd)
}

// openStore loads the configuration and opens the session file.
func openStore(cmd *cobra.Command) (*store.FileStore, error) {
	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true
	return store.NewFileStore(cfg.StorePath, logger), nil
}

func validateFormat(format string) error {
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	return nil
}

// resolveSession finds a session by ID or unique ID prefix.
func resolveSession(ctx context.Context, st store.Store, ref string) (session.Session, error) {
	if s, err := store.Get(ctx, st, ref); err == nil {
		return s, nil
	}

	sessions, err := st.List(ctx)
	if err != nil {
		return session.Session{}, err
	}
	var matches []session.Session
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return session.Session{}, fmt.Errorf("%w: %q", store.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return session.Session{}, fmt.Errorf("session prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if err := validateFormat(sessionsFormat); err != nil {
		return err
	}
	st, err := openStore(cmd)
	if err != nil {
		return err
	}

	sessions, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	if sessionsFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), sessions)
	}
	return writeSessionsTable(cmd.OutOrStdout(), sessions, time.Local)
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	if err := validateFormat(sessionsFormat); err != nil {
		return err
	}
	st, err := openStore(cmd)
	if err != nil {
		return err
	}

	s, err := resolveSession(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	if sessionsFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), s)
	}
	return writeSessionDetail(cmd.OutOrStdout(), &s, time.Local)
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}

	s, err := resolveSession(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	if err := st.Delete(cmd.Context(), s.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", s.ID)
	return nil
}

func runSessionsNote(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}

	s, err := resolveSession(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	note := args[1]
	if err := st.Update(cmd.Context(), s.ID, func(s *session.Session) { s.Note = note }); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated note on session %s\n", s.ID)
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}

	if !sessionsYes {
		fmt.Fprint(cmd.OutOrStdout(), "Delete ALL recorded sessions? [y/N] ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	if err := st.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All sessions deleted")
	return nil
}
