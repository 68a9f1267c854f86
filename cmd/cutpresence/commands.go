package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"tools.zach/dev/cutpresence/internal/config"
	"tools.zach/dev/cutpresence/internal/control"
	"tools.zach/dev/cutpresence/internal/engine"
	"tools.zach/dev/cutpresence/internal/logger"
	"tools.zach/dev/cutpresence/internal/paths"
)

// commandTimeout bounds a single CLI round trip to the daemon.
const commandTimeout = 10 * time.Second

// ///////////////////////////////////////////////
// Control Commands
// ///////////////////////////////////////////////

// controlClient returns a client for --addr, or for control.listen in the
// config when the flag is unset.
func controlClient(opts *cliOptions) (*control.Client, error) {
	addr := opts.addr
	if addr == "" {
		cfg, err := config.Load(opts.dataDir)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		addr = cfg.Control.Listen
	}
	if addr == "" {
		return nil, errors.New("control surface disabled (control.listen is empty); use --addr")
	}
	return control.NewClient(addr), nil
}

// newCommandCmd builds enable/disable/refresh, which differ only in the call.
func newCommandCmd(opts *cliOptions, use, short, done string, call func(*control.Client, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := controlClient(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			if err := call(c, ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

func newEnableCmd(opts *cliOptions) *cobra.Command {
	return newCommandCmd(opts, "enable", "Resume publishing presence", "presence enabled", (*control.Client).Enable)
}

func newDisableCmd(opts *cliOptions) *cobra.Command {
	return newCommandCmd(opts, "disable", "Clear the presence and stop publishing", "presence disabled", (*control.Client).Disable)
}

func newRefreshCmd(opts *cliOptions) *cobra.Command {
	return newCommandCmd(opts, "refresh", "Re-read the editing context now", "refresh requested", (*control.Client).Refresh)
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

func newStatusCmd(opts *cliOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the daemon is publishing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := controlClient(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st, time.Now()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(10)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	modeColors = map[engine.Mode]lipgloss.Color{
		engine.ModeActive:   lipgloss.Color("#5FD75F"),
		engine.ModeIdle:     lipgloss.Color("#FFAF00"),
		engine.ModeCleared:  lipgloss.Color("#888888"),
		engine.ModeDisabled: lipgloss.Color("#FF5F5F"),
	}
)

// renderStatus formats a status document for the terminal.
func renderStatus(st *engine.Status, now time.Time) string {
	row := func(label, value string) string {
		return labelStyle.Render(label) + value
	}
	mode := lipgloss.NewStyle().Bold(true).Foreground(modeColors[st.Mode]).Render(st.Mode.String())
	if !st.Enabled {
		mode += dimStyle.Render(" (publishing off)")
	}

	lines := []string{
		row("Mode", mode),
		row("Discord", st.Connection.String()),
	}
	if st.Details != "" {
		lines = append(lines, row("Details", st.Details))
	}
	if st.State != "" {
		lines = append(lines, row("State", st.State))
	}
	if s := st.Snapshot; s != nil {
		if s.Library != "" {
			lines = append(lines, row("Library", s.Library))
		}
		if s.Project != "" {
			lines = append(lines, row("Project", s.Project))
		}
	}
	if st.SessionStart != nil {
		lines = append(lines, row("Session", formatElapsed(now.Sub(*st.SessionStart))))
	}
	if st.LastPublishAt != nil {
		lines = append(lines, row("Published", formatElapsed(now.Sub(*st.LastPublishAt))+" ago"))
	}
	if st.NextReconnectAt != nil && st.Connection != engine.Connected {
		lines = append(lines, row("Retry", "in "+formatElapsed(st.NextReconnectAt.Sub(now))))
	}
	if st.LastError != "" {
		lines = append(lines, row("Error", dimStyle.Render(st.LastError)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// formatElapsed renders a duration rounded to seconds, never negative.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

// ///////////////////////////////////////////////
// Logs
// ///////////////////////////////////////////////

func newLogsCmd(opts *cliOptions) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printLogs(cmd.OutOrStdout(), paths.DataDir{Root: opts.dataDir}, lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	return cmd
}

func printLogs(w io.Writer, dp paths.DataDir, lines int) error {
	tail, err := logger.ReadTail(dp.Log(), lines)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	if tail == "" {
		return nil
	}
	_, err = io.WriteString(w, strings.TrimRight(tail, "\n")+"\n")
	return err
}
