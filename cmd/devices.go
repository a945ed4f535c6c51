// cmd/devices.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snoreguard/snoreguard/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	capture := audio.New(audio.DefaultConfig())
	if err := capture.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer capture.Close()

	devices, err := capture.ListDevices()
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No capture devices found.")
		return nil
	}

	fmt.Println("Capture devices:")
	for i, d := range devices {
		fmt.Printf("  %2d: %s\n", i, d.Name())
	}
	fmt.Println("\nSelect one with --device <index> or device_index in the config file.")
	return nil
}
