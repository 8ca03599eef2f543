package main

import (
	"fmt"
	"io"
	"time"

	"github.com/foxseedlab/teleconsult/internal/callwindow"
	"github.com/spf13/cobra"
)

var (
	windowRequestedAt string
	windowWatch       bool
)

func newWindowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Show whether a call can be started for an appointment time",
		Long: `Evaluate the call window for an appointment.

A call can start from 15 minutes before the scheduled time until 60 minutes
after it. With --watch the status is recomputed every
CALL_WINDOW_REFRESH_INTERVAL until interrupted.`,
		RunE: runWindow,
	}
	cmd.Flags().StringVar(&windowRequestedAt, "requested-at", "", "appointment time, ISO 8601 (required)")
	cmd.Flags().BoolVar(&windowWatch, "watch", false, "keep re-evaluating until interrupted")
	_ = cmd.MarkFlagRequired("requested-at")
	return cmd
}

func runWindow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	appointment, err := callwindow.ParseAppointmentTime(windowRequestedAt)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !windowWatch {
		printWindow(out, time.Now(), callwindow.Evaluate(time.Now(), appointment))
		return nil
	}

	gate := callwindow.NewGate(callwindow.GateConfig{
		Appointment: appointment,
		Interval:    cfg.CallWindowRefreshInterval,
		Publish:     func(st callwindow.Status) { printWindow(out, time.Now(), st) },
	})
	gate.Run(cmd.Context())
	return nil
}

func printWindow(w io.Writer, now time.Time, st callwindow.Status) {
	stamp := now.Format(time.TimeOnly)
	switch st.Status {
	case callwindow.PhaseTooEarly:
		fmt.Fprintf(w, "%s  too early: the call opens in %d minutes\n", stamp, derefMinutes(st.MinutesUntilAvailable))
	case callwindow.PhaseActive:
		fmt.Fprintf(w, "%s  open: %d minutes left to start the call\n", stamp, derefMinutes(st.MinutesUntilExpiry))
	default:
		fmt.Fprintf(w, "%s  expired: the call window has closed\n", stamp)
	}
}

func derefMinutes(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
