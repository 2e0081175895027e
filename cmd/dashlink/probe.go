package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(10)
)

func newProbeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check once whether the backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			client := newAPIClient(cfg.Backend, uuid.NewString(), logger)
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Health.Timeout)
			defer cancel()

			start := time.Now()
			err = client.Health(ctx)
			renderProbe(cmd.OutOrStdout(), cfg.Backend.APIURL, cfg.Backend.Endpoint(), time.Since(start), err)
			if err != nil {
				return fmt.Errorf("backend unreachable: %w", err)
			}
			return nil
		},
	}
}

func renderProbe(w io.Writer, apiURL, endpoint string, took time.Duration, err error) {
	fmt.Fprintln(w, labelStyle.Render("api")+apiURL)
	fmt.Fprintln(w, labelStyle.Render("realtime")+endpoint)
	if err != nil {
		fmt.Fprintln(w, labelStyle.Render("health")+failStyle.Render("● unreachable")+" "+err.Error())
		return
	}
	fmt.Fprintln(w, labelStyle.Render("health")+okStyle.Render("● reachable")+fmt.Sprintf(" (%s)", took.Round(time.Millisecond)))
}
