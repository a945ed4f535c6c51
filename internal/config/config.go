// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/snoreguard/snoreguard/internal/audio"
	"github.com/snoreguard/snoreguard/internal/dsp"
)

const (
	AppName       = "snoreguard"
	ConfigType    = "yaml"
	DefaultConfig = `# SnoreGuard Configuration

# Audio device settings
device_index: -1        # -1 for default capture device (use 'snoreguard devices' to list)
sample_rate: 16000      # Audio sample rate in Hz
channels: 1             # Number of channels (1=mono)
block_size: 800         # Samples per capture block (800 = 50ms at 16kHz)

# Analysis framing
window_seconds: 1.0     # Analysis window length in seconds
frame_length: 480       # Samples per feature frame (30ms at 16kHz)
hop_length: 240         # Samples between frame starts (15ms at 16kHz)

# Detection thresholds
energy_threshold: 0.015             # Minimum per-frame RMS
f0_confidence_threshold: 0.05       # Minimum voicing confidence (0.0-1.0)
spectral_centroid_threshold: 500    # Maximum spectral centroid in Hz
zcr_threshold: 0.06                 # Maximum zero-crossing rate
f0_min_hz: 70                       # Lower bound of the valid pitch band
f0_max_hz: 150                      # Upper bound of the valid pitch band

# Event validation
min_duration_seconds: 0.2   # Shortest valid snore event
max_duration_seconds: 3.0   # Longest valid snore event

# Periodicity confirmation
periodicity_event_count: 4      # Events needed inside the rolling window
periodicity_window_seconds: 45  # Rolling window length in seconds

# Schedule (optional; empty disables)
schedule_start: ""      # Start detection daily at HH:MM (24h), e.g. "23:00"
schedule_stop: ""       # Stop detection daily at HH:MM (24h), e.g. "07:00"

# Calibration stage durations in seconds
calibration_silence_seconds: 10
calibration_breathing_seconds: 15
calibration_snore_seconds: 15
calibration_speech_seconds: 20

# Output
debug: false            # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int `mapstructure:"device_index"`
	SampleRate  int `mapstructure:"sample_rate" validate:"min=8000,max=48000"`
	Channels    int `mapstructure:"channels" validate:"eq=1"`
	BlockSize   int `mapstructure:"block_size" validate:"min=64,max=8192"`

	// Analysis framing
	WindowSeconds float64 `mapstructure:"window_seconds" validate:"gt=0,lte=5"`
	FrameLength   int     `mapstructure:"frame_length" validate:"min=32"`
	HopLength     int     `mapstructure:"hop_length" validate:"min=1"`

	// Detection thresholds
	EnergyThreshold           float64 `mapstructure:"energy_threshold" validate:"gte=0"`
	F0ConfidenceThreshold     float64 `mapstructure:"f0_confidence_threshold" validate:"gte=0,lte=1"`
	SpectralCentroidThreshold float64 `mapstructure:"spectral_centroid_threshold" validate:"gte=0"`
	ZCRThreshold              float64 `mapstructure:"zcr_threshold" validate:"gte=0,lte=1"`
	F0MinHz                   float64 `mapstructure:"f0_min_hz" validate:"gt=0"`
	F0MaxHz                   float64 `mapstructure:"f0_max_hz" validate:"gt=0"`

	// Event validation
	MinDurationSeconds float64 `mapstructure:"min_duration_seconds" validate:"gte=0"`
	MaxDurationSeconds float64 `mapstructure:"max_duration_seconds" validate:"gt=0"`

	// Periodicity confirmation
	PeriodicityEventCount    int `mapstructure:"periodicity_event_count" validate:"min=1,max=20"`
	PeriodicityWindowSeconds int `mapstructure:"periodicity_window_seconds" validate:"min=1"`

	// Schedule
	ScheduleStart string `mapstructure:"schedule_start" validate:"omitempty,len=5"`
	ScheduleStop  string `mapstructure:"schedule_stop" validate:"omitempty,len=5"`

	// Calibration stage durations
	CalibrationSilenceSeconds   int `mapstructure:"calibration_silence_seconds" validate:"min=1"`
	CalibrationBreathingSeconds int `mapstructure:"calibration_breathing_seconds" validate:"min=1"`
	CalibrationSnoreSeconds     int `mapstructure:"calibration_snore_seconds" validate:"min=1"`
	CalibrationSpeechSeconds    int `mapstructure:"calibration_speech_seconds" validate:"min=1"`

	// Output
	Debug bool `mapstructure:"debug"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/snoreguard/
func Init() error {
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 16000)
	viper.SetDefault("channels", 1)
	viper.SetDefault("block_size", 800)
	viper.SetDefault("window_seconds", 1.0)
	viper.SetDefault("frame_length", 480)
	viper.SetDefault("hop_length", 240)
	viper.SetDefault("energy_threshold", 0.015)
	viper.SetDefault("f0_confidence_threshold", 0.05)
	viper.SetDefault("spectral_centroid_threshold", 500)
	viper.SetDefault("zcr_threshold", 0.06)
	viper.SetDefault("f0_min_hz", 70)
	viper.SetDefault("f0_max_hz", 150)
	viper.SetDefault("min_duration_seconds", 0.2)
	viper.SetDefault("max_duration_seconds", 3.0)
	viper.SetDefault("periodicity_event_count", 4)
	viper.SetDefault("periodicity_window_seconds", 45)
	viper.SetDefault("schedule_start", "")
	viper.SetDefault("schedule_stop", "")
	viper.SetDefault("calibration_silence_seconds", 10)
	viper.SetDefault("calibration_breathing_seconds", 15)
	viper.SetDefault("calibration_snore_seconds", 15)
	viper.SetDefault("calibration_speech_seconds", 20)
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// If no config exists anywhere, create the default in the XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks per-field ranges and the cross-field invariants the
// detection pipeline relies on.
func (s *Settings) Validate() error {
	var errs []error

	if err := validate.Struct(s); err != nil {
		errs = append(errs, err)
	}

	// Cross-field invariants
	if s.F0MinHz >= s.F0MaxHz {
		errs = append(errs, fmt.Errorf("f0_min_hz (%v) must be less than f0_max_hz (%v)", s.F0MinHz, s.F0MaxHz))
	}
	if s.MinDurationSeconds > s.MaxDurationSeconds {
		errs = append(errs, fmt.Errorf("min_duration_seconds (%v) must not exceed max_duration_seconds (%v)",
			s.MinDurationSeconds, s.MaxDurationSeconds))
	}
	if s.HopLength > s.FrameLength {
		errs = append(errs, fmt.Errorf("hop_length (%d) must not exceed frame_length (%d)", s.HopLength, s.FrameLength))
	}
	if ws := s.WindowSamples(); ws < s.FrameLength {
		errs = append(errs, fmt.Errorf("window_seconds (%v) must cover at least one frame of %d samples",
			s.WindowSeconds, s.FrameLength))
	}
	// Nyquist check: the pitch band must be resolvable at the sample rate
	if s.F0MaxHz >= float64(s.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("f0_max_hz (%v Hz) must be less than Nyquist frequency (%v Hz)",
			s.F0MaxHz, float64(s.SampleRate)/2))
	}
	if (s.ScheduleStart == "") != (s.ScheduleStop == "") {
		errs = append(errs, errors.New("schedule_start and schedule_stop must be set together"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WindowSamples returns the analysis window length in samples.
func (s *Settings) WindowSamples() int {
	return int(s.WindowSeconds * float64(s.SampleRate))
}

// AudioConfig derives the capture configuration.
func (s *Settings) AudioConfig() audio.Config {
	return audio.Config{
		DeviceIndex: s.DeviceIndex,
		SampleRate:  uint32(s.SampleRate),
		Channels:    uint32(s.Channels),
		BlockSize:   uint32(s.BlockSize),
	}
}

// FeatureConfig derives the analysis framing configuration.
func (s *Settings) FeatureConfig() dsp.FeatureConfig {
	return dsp.FeatureConfig{
		SampleRate:    s.SampleRate,
		WindowSamples: s.WindowSamples(),
		FrameLength:   s.FrameLength,
		HopLength:     s.HopLength,
	}
}

// Thresholds derives the detection parameters.
func (s *Settings) Thresholds() dsp.Thresholds {
	return dsp.Thresholds{
		EnergyThreshold:           s.EnergyThreshold,
		F0ConfidenceThreshold:     s.F0ConfidenceThreshold,
		SpectralCentroidThreshold: s.SpectralCentroidThreshold,
		ZCRThreshold:              s.ZCRThreshold,
		F0MinHz:                   s.F0MinHz,
		F0MaxHz:                   s.F0MaxHz,
		MinDurationSeconds:        s.MinDurationSeconds,
		MaxDurationSeconds:        s.MaxDurationSeconds,
		PeriodicityEventCount:     s.PeriodicityEventCount,
		PeriodicityWindowSeconds:  s.PeriodicityWindowSeconds,
	}
}
