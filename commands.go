package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lotas/ragex/internal/export"
	"github.com/lotas/ragex/internal/storage"
	"github.com/lotas/ragex/internal/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			state, err := storage.NewSessionRepo(e.db).Load(ctx)
			if err != nil {
				return err
			}
			if len(state.Sessions) == 0 {
				fmt.Println("No sessions saved yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tTITLE\tSTATUS\tTURNS\tURL")
			for _, s := range state.Sessions {
				mark := ""
				if s.ID == state.ActiveID {
					mark = "*"
				}
				status := "disconnected"
				if s.IsConnected {
					status = "connected"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", mark, s.ID, s.Title, status, len(s.History), s.URL)
			}
			return w.Flush()
		},
	}
}

func newExportCommand() *cobra.Command {
	var (
		asJSON    bool
		sessionID string
		outFile   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export session transcripts as Markdown or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			state, err := storage.NewSessionRepo(e.db).Load(ctx)
			if err != nil {
				return err
			}
			sessions := state.Sessions
			if sessionID != "" {
				sessions = nil
				for _, s := range state.Sessions {
					if s.ID == sessionID {
						sessions = []types.Session{s}
						break
					}
				}
				if sessions == nil {
					return fmt.Errorf("session %q not found", sessionID)
				}
			}

			var output string
			if asJSON {
				if output, err = export.JSON(sessions); err != nil {
					return fmt.Errorf("generate JSON: %w", err)
				}
			} else {
				output = export.Markdown(sessions)
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(output), 0o644); err != nil {
					return fmt.Errorf("write file: %w", err)
				}
				return nil
			}
			fmt.Print(output)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Export as JSON instead of markdown")
	cmd.Flags().StringVar(&sessionID, "session", "", "Export only this session id")
	cmd.Flags().StringVar(&outFile, "out", "", "Output file path (default: stdout)")
	return cmd
}

func newPingCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ping [url]",
		Short: "Check that the retrieval backend answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			target := "https://example.com/"
			if len(args) == 1 {
				target = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			_, ready, err := newClient(e.cfg).Analyze(ctx, target)
			if err != nil {
				return fmt.Errorf("%s: %w", e.cfg.TrimmedAPIBase(), err)
			}
			state := "not indexed"
			if ready {
				state = "indexed"
			}
			fmt.Printf("ok %s (%s, %s)\n", e.cfg.TrimmedAPIBase(), state, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			out, err := yaml.Marshal(e.cfg)
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s", flags.configPath, out)
			return nil
		},
	}
}
