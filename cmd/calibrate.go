// cmd/calibrate.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snoreguard/snoreguard/internal/audio"
	"github.com/snoreguard/snoreguard/internal/calibrate"
	"github.com/snoreguard/snoreguard/internal/config"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Derive personalized detection thresholds",
	Long: `Guides you through four short recordings (room noise, breathing, light
snoring, speech) and computes thresholds that separate your snoring from the
other sounds. Use --save to write the result to the config file.`,
	RunE: runCalibrate,
}

var calibrateSave bool

func init() {
	calibrateCmd.Flags().BoolVar(&calibrateSave, "save", false, "write calibrated thresholds to the config file")
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return err
	}

	capture := audio.New(settings.AudioConfig())
	if err := capture.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer capture.Close()

	analyzer, err := calibrate.NewAnalyzer(settings.FeatureConfig())
	if err != nil {
		return err
	}
	calibrator := calibrate.NewCalibrator(settings.Thresholds())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stages := calibrate.Stages(
		settings.CalibrationSilenceSeconds,
		settings.CalibrationBreathingSeconds,
		settings.CalibrationSnoreSeconds,
		settings.CalibrationSpeechSeconds,
	)

	for i, stage := range stages {
		fmt.Printf("\n[%d/%d] %s (%ds)\n  %s\n  Press Enter to start recording...",
			i+1, len(stages), stage.Name, stage.Seconds, stage.Instruction)
		if _, err := fmt.Scanln(); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		recording, err := recordStage(ctx, capture, settings.SampleRate, stage.Seconds)
		if err != nil {
			return fmt.Errorf("record %s stage: %w", stage.Label, err)
		}

		sample, err := analyzer.Analyze(recording, stage.Label)
		if err != nil {
			return err
		}
		calibrator.AddSample(sample)
	}

	result, err := calibrator.Compute()
	if err != nil {
		return err
	}

	t := result.Thresholds
	fmt.Println("\nCalibration result:")
	fmt.Printf("  energy_threshold:            %.4f\n", t.EnergyThreshold)
	fmt.Printf("  f0_confidence_threshold:     %.3f\n", t.F0ConfidenceThreshold)
	fmt.Printf("  spectral_centroid_threshold: %.0f Hz\n", t.SpectralCentroidThreshold)
	fmt.Printf("  zcr_threshold:               %.3f\n", t.ZCRThreshold)
	fmt.Printf("  f0 band:                     %.0f - %.0f Hz\n", t.F0MinHz, t.F0MaxHz)
	fmt.Printf("  confidence:                  %.0f%%\n", result.Confidence["total_confidence"]*100)

	if !calibrateSave {
		fmt.Println("\nRe-run with --save to apply these thresholds.")
		return nil
	}

	viper.Set("energy_threshold", t.EnergyThreshold)
	viper.Set("f0_confidence_threshold", t.F0ConfidenceThreshold)
	viper.Set("spectral_centroid_threshold", t.SpectralCentroidThreshold)
	viper.Set("zcr_threshold", t.ZCRThreshold)
	viper.Set("f0_min_hz", t.F0MinHz)
	viper.Set("f0_max_hz", t.F0MaxHz)
	if err := viper.WriteConfig(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Saved to %s\n", viper.ConfigFileUsed())
	return nil
}

// recordStage collects capture blocks for the stage duration.
func recordStage(ctx context.Context, capture *audio.Capture, sampleRate, seconds int) ([]float32, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := capture.Start(runCtx); err != nil {
		return nil, err
	}
	defer capture.Stop()

	want := sampleRate * seconds
	recording := make([]float32, 0, want)
	deadline := time.After(time.Duration(seconds) * time.Second)

	for len(recording) < want {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return recording, nil
		case block, ok := <-capture.Samples:
			if !ok {
				return recording, nil
			}
			recording = append(recording, block...)
		}
	}
	return recording, nil
}
