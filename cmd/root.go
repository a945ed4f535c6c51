// cmd/root.go
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snoreguard/snoreguard/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "snoreguard",
	Short: "Rule-based snore detector for a live microphone",
	Long: `SnoreGuard listens to a microphone, extracts acoustic features in real
time and confirms snoring episodes from their periodicity. Thresholds can be
personalized with the calibrate command.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().Float64P("energy", "e", 0.015, "minimum per-frame RMS energy")
	rootCmd.PersistentFlags().IntP("events", "n", 4, "events needed to confirm an episode")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("energy_threshold", rootCmd.PersistentFlags().Lookup("energy"))
	viper.BindPFlag("periodicity_event_count", rootCmd.PersistentFlags().Lookup("events"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
