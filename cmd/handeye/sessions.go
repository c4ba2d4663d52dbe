package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/security"
)

func (a *app) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, inspect and delete capture sessions",
	}
	cmd.AddCommand(a.sessionsListCmd(), a.sessionsShowCmd(), a.sessionsDeleteCmd())
	return cmd
}

func (a *app) sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List capture sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			sessions, err := st.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTARTED\tSAMPLES\tNOTE")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Kind, s.StartedAt.Local().Format(time.DateTime), s.Samples, s.Note)
			}
			return tw.Flush()
		},
	}
}

func (a *app) sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show the samples of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			sess, err := st.Session(ctx, args[0])
			if err != nil {
				return fmt.Errorf("session %s: %w", args[0], err)
			}
			samples, err := st.LoadSamples(ctx, sess.ID)
			if err != nil {
				return err
			}
			heading(out, fmt.Sprintf("Session %s (%s)", sess.ID, sess.Kind))
			if sess.Note != "" {
				fmt.Fprintf(out, "  note: %s\n", sess.Note)
			}
			fmt.Fprintf(out, "  started %s", sess.StartedAt.Local().Format(time.DateTime))
			if !sess.ClosedAt.IsZero() {
				fmt.Fprintf(out, ", closed %s", sess.ClosedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tIMAGE\tEEF POSE (m, rad)\tBOARD")
			for _, s := range samples {
				board := "-"
				if s.BoardInCamera != nil {
					board = "posed"
				}
				fmt.Fprintf(tw, "%d\t%s\t%v\t%s\n", s.Seq, s.ImagePath, geometry.PoseVectorFromTransform(s.EEFInBase), board)
			}
			return tw.Flush()
		},
	}
}

func (a *app) sessionsDeleteCmd() *cobra.Command {
	var keepImages bool
	cmd := &cobra.Command{
		Use:   "delete SESSION_ID",
		Short: "Delete a session, its samples and its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.DeleteSession(cmd.Context(), id); err != nil {
				return fmt.Errorf("session %s: %w", id, err)
			}
			if !keepImages {
				dir, err := security.ResolveWithin(a.cfg.Storage.GetImageRoot(), security.SanitizeFilename(id))
				if err != nil {
					return err
				}
				if err := a.fs.RemoveAll(dir); err != nil {
					return fmt.Errorf("remove images: %w", err)
				}
			}
			success(cmd.OutOrStdout(), "deleted session %s", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepImages, "keep-images", false, "Leave the session's image directory in place")
	return cmd
}
