package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/teleconsult/external/device"
	"github.com/foxseedlab/teleconsult/internal/call"
	"github.com/foxseedlab/teleconsult/internal/callwindow"
	"github.com/foxseedlab/teleconsult/internal/httpapi"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/foxseedlab/teleconsult/internal/repository"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var (
	callAppointmentID string
	callRequestedAt   string
	callIgnoreWindow  bool
)

var errOutsideWindow = errors.New("appointment is outside its call window")

func newCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Join the video call for an appointment and capture its transcript",
		Long: `Join the video call for an appointment.

When --requested-at is given the call only starts inside the appointment's
call window, unless --ignore-window is set. The call ends on SIGINT, SIGTERM
or POST /call/end on the status server; the transcript is flushed to the
portal before the command exits.`,
		RunE: runCall,
	}
	cmd.Flags().StringVar(&callAppointmentID, "appointment", "", "appointment id (required)")
	cmd.Flags().StringVar(&callRequestedAt, "requested-at", "", "appointment time, ISO 8601")
	cmd.Flags().BoolVar(&callIgnoreWindow, "ignore-window", false, "start even outside the call window")
	return cmd
}

func runCall(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := checkWindow(cmd); err != nil {
		return err
	}

	injector := setupDI(cfg)

	orch, err := do.Invoke[*call.Orchestrator](injector)
	if err != nil {
		return fmt.Errorf("build call: %w", err)
	}
	recorder := do.MustInvoke[*device.VideoRecorder](injector)
	defer recorder.Close()
	orch.OnMediaChange(recorder.Sync)

	repo := do.MustInvoke[repository.Repository](injector)
	if c, ok := repo.(interface{ Close() }); ok {
		defer c.Close()
	}

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	server := httpapi.NewServer(httpapi.Config{
		Call:     orch,
		Checkers: []httpapi.Checker{{Name: "database", Check: repo.Ping}},
		Metrics:  do.MustInvoke[*metrics.Metrics](injector),
	})
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe(serverCtx, cfg.StatusAddr) }()

	go func() {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, ending call")
			orch.Close()
		case <-orch.Done():
		}
	}()

	initErr := orch.Initialize(context.WithoutCancel(ctx), callAppointmentID)
	if initErr == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "call active for appointment %s; status on http://%s/call\n", callAppointmentID, cfg.StatusAddr)
	}

	<-orch.Done()
	stopServer()
	if err := <-serverDone; err != nil {
		slog.Error("status server failed", "error", err)
	}

	switch {
	case initErr == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "call ended")
		return nil
	case errors.Is(initErr, call.ErrCallCancelled):
		fmt.Fprintln(cmd.OutOrStdout(), "call cancelled")
		return nil
	default:
		fmt.Fprintln(cmd.ErrOrStderr(), call.UserMessage(initErr))
		return initErr
	}
}

func checkWindow(cmd *cobra.Command) error {
	if callRequestedAt == "" {
		return nil
	}
	appointment, err := callwindow.ParseAppointmentTime(callRequestedAt)
	if err != nil {
		return err
	}
	now := time.Now()
	st := callwindow.Evaluate(now, appointment)
	printWindow(cmd.OutOrStdout(), now, st)
	if st.CanStartCall || callIgnoreWindow {
		return nil
	}
	return errOutsideWindow
}
