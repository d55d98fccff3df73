package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the settings file.
type Config struct {
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// Audio describes the capture stream.
	Audio Audio `yaml:"audio"`
	// Detection describes the monitored chime signatures and the debounce policy.
	Detection Detection `yaml:"detection"`
	// Notify configures the notification transports.
	Notify Notify `yaml:"notify"`
	// Metrics configures the Prometheus endpoint.
	Metrics Metrics `yaml:"metrics"`
	// Health configures the gRPC health endpoint.
	Health Health `yaml:"health"`
}

// Audio holds capture parameters. They are fixed for the lifetime of a run.
type Audio struct {
	// Device is the PortAudio input device name; "default" picks the host default.
	Device string `yaml:"device"`
	// Input switches capture to raw little-endian float32 samples read from a
	// file or FIFO ("-" means stdin) instead of PortAudio.
	Input string `yaml:"input"`
	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`
	// ChunkSize is the number of samples processed per loop iteration.
	ChunkSize int `yaml:"chunk_size"`
}

// Band is a single monitored chime frequency.
type Band struct {
	// Frequency is the center frequency in Hz.
	Frequency float64 `yaml:"frequency"`
	// Label is the alert text sent when this band fires.
	Label string `yaml:"label"`
}

// Detection holds the threshold/cooldown policy and the band list.
// Band order is significant: earlier bands win when several cross the threshold.
type Detection struct {
	Bands           []Band        `yaml:"bands"`
	Bandwidth       float64       `yaml:"bandwidth"`
	AveragingWindow time.Duration `yaml:"averaging_window"`
	Threshold       float64       `yaml:"threshold"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// Notify groups transport settings. A transport is enabled when its
// identifying field (key, broker, database or pin) is set.
type Notify struct {
	// Timeout bounds a single delivery attempt of a single transport.
	Timeout   time.Duration `yaml:"timeout"`
	Pushsafer Pushsafer     `yaml:"pushsafer"`
	MQTT      MQTT          `yaml:"mqtt"`
	WebPush   WebPush       `yaml:"webpush"`
	GPIO      GPIO          `yaml:"gpio"`
}

// Pushsafer holds the Pushsafer API credential.
type Pushsafer struct {
	Key      string `yaml:"key"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
	Device   string `yaml:"device"`
}

// MQTT holds broker settings for publishing detection events.
type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// WebPush holds VAPID credentials and the subscription database path.
type WebPush struct {
	Database        string `yaml:"database"`
	Subscriber      string `yaml:"subscriber"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	TTL             int    `yaml:"ttl"`
}

// GPIO drives a relay or LED on a Raspberry Pi pin when the doorbell rings.
type GPIO struct {
	// Pin is the BCM pin number; zero disables the transport.
	Pin   int           `yaml:"pin"`
	Pulse time.Duration `yaml:"pulse"`
}

// Metrics configures the Prometheus HTTP listener. Empty address disables it.
type Metrics struct {
	ListenAddress string `yaml:"listen_address"`
}

// Health configures the gRPC health listener. Empty address disables it.
type Health struct {
	ListenAddress string `yaml:"listen_address"`
}

const (
	// DefaultConfigFilename is the default settings filename.
	DefaultConfigFilename = "doorbell-monitor.yaml"

	// DefaultFilePermissions is the permission used for written settings files.
	DefaultFilePermissions = 0o600

	// DefaultSampleRate is enough for doorbell chimes.
	DefaultSampleRate = 8000
	// DefaultChunkSize is 8 ms of latency at the default sample rate.
	DefaultChunkSize = 64
	// DefaultBandwidth is the width of every monitored band in Hz.
	DefaultBandwidth = 2.0
	// DefaultAveragingWindow is the magnitude smoothing window.
	DefaultAveragingWindow = 50 * time.Millisecond
	// DefaultThreshold is the magnitude at which a band fires.
	DefaultThreshold = 0.1
	// DefaultCooldown is the global suppression window after a detection.
	DefaultCooldown = 10 * time.Second

	// DefaultNotifyTimeout bounds one delivery attempt.
	DefaultNotifyTimeout = 10 * time.Second
	// DefaultPushsaferURL is the Pushsafer API endpoint.
	DefaultPushsaferURL = "https://www.pushsafer.com/api"
	// DefaultPushsaferPriority is "critical".
	DefaultPushsaferPriority = 2
	// DefaultMQTTTopic is the topic detection events are published to.
	DefaultMQTTTopic = "doorbell/events"
	// DefaultWebPushTTL is the push service retention in seconds.
	DefaultWebPushTTL = 60
	// DefaultGPIOPulse is how long the GPIO pin is held high.
	DefaultGPIOPulse = 2 * time.Second
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidSampleRate is returned for a non-positive sample rate.
	errInvalidSampleRate = errors.New("sample rate must be positive")
	// errInvalidChunkSize is returned for a non-positive chunk size.
	errInvalidChunkSize = errors.New("chunk size must be positive")
	// errInvalidThreshold is returned for a non-positive threshold.
	errInvalidThreshold = errors.New("threshold must be positive")
	// errInvalidQoS is returned for an MQTT QoS outside 0..2.
	errInvalidQoS = errors.New("mqtt qos must be 0, 1 or 2")
)

// Default returns the reference configuration.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg) //nolint:errcheck // The zero config always validates once defaults are applied.

	return cfg
}

// DefaultBands returns the reference two-button doorbell.
func DefaultBands() []Band {
	return []Band{
		{Frequency: 727, Label: "DOWNSTAIRS DOORBELL"},
		{Frequency: 977, Label: "UPSTAIRS DOORBELL"},
	}
}

// Load reads configuration from path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// The file carries transport credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and rejects values the monitor cannot run with.
// Band-level checks (Nyquist, bandwidth) live in the band package.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := validateAudio(&cfg.Audio); err != nil {
		return err
	}

	if err := validateDetection(&cfg.Detection); err != nil {
		return err
	}

	if err := validateNotify(&cfg.Notify); err != nil {
		return err
	}

	if err := ValidateListenAddress(cfg.Metrics.ListenAddress); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	if err := ValidateListenAddress(cfg.Health.ListenAddress); err != nil {
		return fmt.Errorf("health: %w", err)
	}

	return nil
}

func validateAudio(audio *Audio) error {
	if audio.Device == "" {
		audio.Device = "default"
	}

	switch {
	case audio.SampleRate == 0:
		audio.SampleRate = DefaultSampleRate
	case audio.SampleRate < 0:
		return errInvalidSampleRate
	}

	switch {
	case audio.ChunkSize == 0:
		audio.ChunkSize = DefaultChunkSize
	case audio.ChunkSize < 0:
		return errInvalidChunkSize
	}

	return nil
}

func validateDetection(detection *Detection) error {
	if len(detection.Bands) == 0 {
		detection.Bands = DefaultBands()
	}

	if detection.Bandwidth == 0 {
		detection.Bandwidth = DefaultBandwidth
	}

	if detection.AveragingWindow <= 0 {
		detection.AveragingWindow = DefaultAveragingWindow
	}

	switch {
	case detection.Threshold == 0:
		detection.Threshold = DefaultThreshold
	case detection.Threshold < 0:
		return errInvalidThreshold
	}

	if detection.Cooldown <= 0 {
		detection.Cooldown = DefaultCooldown
	}

	return nil
}

func validateNotify(notify *Notify) error {
	if notify.Timeout <= 0 {
		notify.Timeout = DefaultNotifyTimeout
	}

	if notify.Pushsafer.Key != "" {
		if notify.Pushsafer.URL == "" {
			notify.Pushsafer.URL = DefaultPushsaferURL
		}

		if _, err := url.ParseRequestURI(notify.Pushsafer.URL); err != nil {
			return fmt.Errorf("invalid pushsafer url: %w", err)
		}

		if notify.Pushsafer.Priority == 0 {
			notify.Pushsafer.Priority = DefaultPushsaferPriority
		}
	}

	if notify.MQTT.Broker != "" {
		if _, err := url.Parse(notify.MQTT.Broker); err != nil {
			return fmt.Errorf("invalid mqtt broker: %w", err)
		}

		if notify.MQTT.Topic == "" {
			notify.MQTT.Topic = DefaultMQTTTopic
		}

		if notify.MQTT.QoS > 2 { //nolint:mnd // MQTT defines QoS levels 0..2.
			return errInvalidQoS
		}
	}

	if notify.WebPush.Database != "" && notify.WebPush.TTL <= 0 {
		notify.WebPush.TTL = DefaultWebPushTTL
	}

	if notify.GPIO.Pin > 0 && notify.GPIO.Pulse <= 0 {
		notify.GPIO.Pulse = DefaultGPIOPulse
	}

	return nil
}

// ValidateListenAddress checks that addr is a host:port pair, empty meaning disabled.
func ValidateListenAddress(addr string) error {
	if addr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	return nil
}
