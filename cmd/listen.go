// cmd/listen.go
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snoreguard/snoreguard/internal/config"
	"github.com/snoreguard/snoreguard/internal/detector"
	"github.com/snoreguard/snoreguard/internal/dsp"
	"github.com/snoreguard/snoreguard/internal/schedule"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run live snore detection",
	Long: `Captures microphone audio and runs the detection pipeline until
interrupted. When a schedule is configured, detection starts and stops at the
configured times instead of immediately.`,
	RunE: runListen,
}

var listenStats bool

func init() {
	listenCmd.Flags().BoolVar(&listenStats, "stats", false, "print per-window feature statistics")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	svc, err := detector.New(detector.Config{
		Audio:   settings.AudioConfig(),
		Feature: settings.FeatureConfig(),
	}, settings.Thresholds(), func() {
		fmt.Printf("[%s] snoring episode detected\n", time.Now().Format("15:04:05"))
	})
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sched *schedule.Scheduler
	if settings.ScheduleStart != "" {
		startAt, err := schedule.ParseTimeOfDay(settings.ScheduleStart)
		if err != nil {
			return fmt.Errorf("schedule_start: %w", err)
		}
		stopAt, err := schedule.ParseTimeOfDay(settings.ScheduleStop)
		if err != nil {
			return fmt.Errorf("schedule_stop: %w", err)
		}

		sched = schedule.New(startAt, stopAt,
			func() {
				if err := svc.Start(ctx); err != nil && err != detector.ErrAlreadyRunning {
					slog.Error("scheduled start failed", "error", err)
				}
			},
			func() {
				if err := svc.Stop(); err != nil && err != detector.ErrNotRunning {
					slog.Error("scheduled stop failed", "error", err)
				}
			})
		if err := sched.Run(ctx); err != nil {
			return err
		}
		defer sched.Stop()
		fmt.Printf("Waiting for schedule (%s - %s). Press Ctrl+C to quit.\n", startAt, stopAt)
	} else {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start detector: %w", err)
		}
		fmt.Println("Listening. Press Ctrl+C to quit.")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-svc.Results:
			if listenStats {
				printWindow(result)
			}
		case at := <-svc.Detections:
			slog.Info("episode confirmed", "at", at.Format(time.RFC3339))
		}
	}
}

func printWindow(r dsp.WindowResult) {
	fmt.Printf("rms %.4f | centroid %5.0f Hz | zcr %.3f | f0 %5.1f Hz | events %d | queued %d\n",
		r.Stats.RMS.Mean,
		r.Stats.SpectralCentroid.Mean,
		r.Stats.ZCR.Mean,
		r.Stats.F0.Mean,
		len(r.Events),
		r.RecentEventsCount)
}
