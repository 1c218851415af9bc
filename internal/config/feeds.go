package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saviobatista/modes-feed/internal/connector"
	"github.com/saviobatista/modes-feed/internal/cpr"
	"github.com/saviobatista/modes-feed/internal/extractor"
	"github.com/saviobatista/modes-feed/internal/merged"
	"github.com/saviobatista/modes-feed/internal/translator"
)

// Connection kinds of a receiver
const (
	ConnectionActive  = "active"
	ConnectionPassive = "passive"
	ConnectionSerial  = "serial"
)

const DefaultAircraftTimeout = 60 * time.Second

type feedsFile struct {
	Feeds []FeedConfig `yaml:"feeds"`
}

// FeedConfig describes one feed. A feed with more than one receiver is
// merged.
type FeedConfig struct {
	Name                         string           `yaml:"name"`
	Receivers                    []ReceiverConfig `yaml:"receivers"`
	IcaoTimeout                  time.Duration    `yaml:"icao_timeout"`
	IgnoreAircraftWithNoPosition bool             `yaml:"ignore_aircraft_with_no_position"`
	AircraftTimeout              time.Duration    `yaml:"aircraft_timeout"`
	Translator                   TranslatorConfig `yaml:"translator"`
}

// ReceiverConfig describes how to reach one receiver
type ReceiverConfig struct {
	Name             string        `yaml:"name"`
	Format           string        `yaml:"format"`
	Connection       string        `yaml:"connection"`
	Address          string        `yaml:"address"`
	SerialPort       string        `yaml:"serial_port"`
	Baud             int           `yaml:"baud"`
	Passphrase       string        `yaml:"passphrase"`
	SingleConnection bool          `yaml:"single_connection"`
	StaleTimeout     time.Duration `yaml:"stale_timeout"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
}

// TranslatorConfig is the YAML form of translator.Settings
type TranslatorConfig struct {
	ReceiverLatitude           *float64 `yaml:"receiver_latitude"`
	ReceiverLongitude          *float64 `yaml:"receiver_longitude"`
	ReceiverRangeKilometres    float64  `yaml:"receiver_range_km"`
	SuppressReceiverRangeCheck bool     `yaml:"suppress_receiver_range_check"`

	UseLocalDecodeForInitialPosition  bool    `yaml:"use_local_decode_for_initial_position"`
	LocalDecodeConfirmationKilometres float64 `yaml:"local_decode_confirmation_km"`

	AirborneGlobalPositionLimit    time.Duration `yaml:"airborne_global_position_limit"`
	FastSurfaceGlobalPositionLimit time.Duration `yaml:"fast_surface_global_position_limit"`
	SlowSurfaceGlobalPositionLimit time.Duration `yaml:"slow_surface_global_position_limit"`

	AcceptableAirborneSpeed   float64 `yaml:"acceptable_airborne_speed"`
	AcceptableTransitionSpeed float64 `yaml:"acceptable_transition_speed"`
	AcceptableSurfaceSpeed    float64 `yaml:"acceptable_surface_speed"`

	AcceptIcaoInPI0Count          int `yaml:"accept_icao_in_pi0_count"`
	AcceptIcaoInPI0Milliseconds   int `yaml:"accept_icao_in_pi0_milliseconds"`
	AcceptIcaoInNonPICount        int `yaml:"accept_icao_in_non_pi_count"`
	AcceptIcaoInNonPIMilliseconds int `yaml:"accept_icao_in_non_pi_milliseconds"`

	IgnoreInvalidCodeBlockInParityMessages bool `yaml:"ignore_invalid_code_block_in_parity_messages"`
	IgnoreInvalidCodeBlockInOtherMessages  bool `yaml:"ignore_invalid_code_block_in_other_messages"`
	IgnoreMilitaryExtendedSquitter         bool `yaml:"ignore_military_extended_squitter"`
	SuppressTisbDecoding                   bool `yaml:"suppress_tisb_decoding"`

	TrackingTimeoutSeconds int `yaml:"tracking_timeout_seconds"`
}

// DefaultFeedConfig returns a feed without receivers
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		IcaoTimeout:     merged.DefaultIcaoTimeout,
		AircraftTimeout: DefaultAircraftTimeout,
		Translator:      defaultTranslatorConfig(),
	}
}

// DefaultReceiverConfig returns an active Beast TCP receiver without address
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Format:       string(extractor.FormatBeast),
		Connection:   ConnectionActive,
		StaleTimeout: connector.DefaultStaleTimeout,
		DialTimeout:  5 * time.Second,
	}
}

func defaultTranslatorConfig() TranslatorConfig {
	s := translator.DefaultSettings()
	return TranslatorConfig{
		ReceiverRangeKilometres:           s.ReceiverRangeKilometres,
		SuppressReceiverRangeCheck:        s.SuppressReceiverRangeCheck,
		UseLocalDecodeForInitialPosition:  s.UseLocalDecodeForInitialPosition,
		LocalDecodeConfirmationKilometres: s.LocalDecodeConfirmationKilometres,
		AirborneGlobalPositionLimit:       s.AirborneGlobalPositionLimit,
		FastSurfaceGlobalPositionLimit:    s.FastSurfaceGlobalPositionLimit,
		SlowSurfaceGlobalPositionLimit:    s.SlowSurfaceGlobalPositionLimit,
		AcceptableAirborneSpeed:           s.AcceptableAirborneSpeed,
		AcceptableTransitionSpeed:         s.AcceptableTransitionSpeed,
		AcceptableSurfaceSpeed:            s.AcceptableSurfaceSpeed,
		AcceptIcaoInPI0Count:              s.AcceptIcaoInPI0Count,
		AcceptIcaoInPI0Milliseconds:       s.AcceptIcaoInPI0Milliseconds,
		AcceptIcaoInNonPICount:            s.AcceptIcaoInNonPICount,
		AcceptIcaoInNonPIMilliseconds:     s.AcceptIcaoInNonPIMilliseconds,
		TrackingTimeoutSeconds:            s.TrackingTimeoutSeconds,
	}
}

// UnmarshalYAML fills in defaults for keys the document leaves out
func (f *FeedConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain FeedConfig
	*f = DefaultFeedConfig()
	return value.Decode((*plain)(f))
}

// UnmarshalYAML fills in defaults for keys the document leaves out
func (r *ReceiverConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ReceiverConfig
	*r = DefaultReceiverConfig()
	return value.Decode((*plain)(r))
}

// LoadFeeds reads and validates a feeds file
func LoadFeeds(path string) ([]FeedConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFeeds(b)
}

// ParseFeeds decodes and validates a feeds document
func ParseFeeds(b []byte) ([]FeedConfig, error) {
	var doc feedsFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse feeds: %w", err)
	}
	if len(doc.Feeds) == 0 {
		return nil, fmt.Errorf("feeds file defines no feeds")
	}

	names := make(map[string]bool)
	for i := range doc.Feeds {
		f := &doc.Feeds[i]
		if f.Name == "" {
			f.Name = fmt.Sprintf("feed-%d", i+1)
		}
		if names[f.Name] {
			return nil, fmt.Errorf("duplicate feed name %q", f.Name)
		}
		names[f.Name] = true
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Feeds, nil
}

// Validate checks the feed and everything it contains
func (f *FeedConfig) Validate() error {
	if len(f.Receivers) == 0 {
		return fmt.Errorf("feed %s: at least one receiver is required", f.Name)
	}
	if f.AircraftTimeout <= 0 {
		return fmt.Errorf("feed %s: aircraft timeout must be positive", f.Name)
	}
	if err := f.MergeSettings().Validate(); err != nil {
		return fmt.Errorf("feed %s: %w", f.Name, err)
	}
	if _, err := f.TranslatorSettings(); err != nil {
		return fmt.Errorf("feed %s: %w", f.Name, err)
	}

	names := make(map[string]bool)
	for i := range f.Receivers {
		r := &f.Receivers[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("%s-%d", f.Name, i+1)
		}
		if names[r.Name] {
			return fmt.Errorf("feed %s: duplicate receiver name %q", f.Name, r.Name)
		}
		names[r.Name] = true
		if err := r.Validate(); err != nil {
			return fmt.Errorf("feed %s: receiver %s: %w", f.Name, r.Name, err)
		}
	}
	return nil
}

// Validate checks that the receiver can be connected to
func (r *ReceiverConfig) Validate() error {
	if _, err := extractor.ParseFormat(r.Format); err != nil {
		return err
	}
	switch r.Connection {
	case ConnectionActive, ConnectionPassive:
		if r.Address == "" {
			return fmt.Errorf("address is required for %s connections", r.Connection)
		}
	case ConnectionSerial:
		if r.SerialPort == "" {
			return fmt.Errorf("serial_port is required for serial connections")
		}
		if r.Baud <= 0 {
			return fmt.Errorf("baud must be positive, got %d", r.Baud)
		}
	default:
		return fmt.Errorf("unknown connection %q", r.Connection)
	}
	if r.StaleTimeout <= 0 {
		return fmt.Errorf("stale timeout must be positive")
	}
	return nil
}

// MergeSettings returns the ownership settings of the feed
func (f *FeedConfig) MergeSettings() merged.Settings {
	return merged.Settings{
		IcaoTimeout:                  f.IcaoTimeout,
		IgnoreAircraftWithNoPosition: f.IgnoreAircraftWithNoPosition,
	}
}

// TranslatorSettings converts and validates the translator section
func (f *FeedConfig) TranslatorSettings() (translator.Settings, error) {
	t := f.Translator
	s := translator.Settings{
		ReceiverRangeKilometres:                t.ReceiverRangeKilometres,
		SuppressReceiverRangeCheck:             t.SuppressReceiverRangeCheck,
		UseLocalDecodeForInitialPosition:       t.UseLocalDecodeForInitialPosition,
		LocalDecodeConfirmationKilometres:      t.LocalDecodeConfirmationKilometres,
		AirborneGlobalPositionLimit:            t.AirborneGlobalPositionLimit,
		FastSurfaceGlobalPositionLimit:         t.FastSurfaceGlobalPositionLimit,
		SlowSurfaceGlobalPositionLimit:         t.SlowSurfaceGlobalPositionLimit,
		AcceptableAirborneSpeed:                t.AcceptableAirborneSpeed,
		AcceptableTransitionSpeed:              t.AcceptableTransitionSpeed,
		AcceptableSurfaceSpeed:                 t.AcceptableSurfaceSpeed,
		AcceptIcaoInPI0Count:                   t.AcceptIcaoInPI0Count,
		AcceptIcaoInPI0Milliseconds:            t.AcceptIcaoInPI0Milliseconds,
		AcceptIcaoInNonPICount:                 t.AcceptIcaoInNonPICount,
		AcceptIcaoInNonPIMilliseconds:          t.AcceptIcaoInNonPIMilliseconds,
		IgnoreInvalidCodeBlockInParityMessages: t.IgnoreInvalidCodeBlockInParityMessages,
		IgnoreInvalidCodeBlockInOtherMessages:  t.IgnoreInvalidCodeBlockInOtherMessages,
		IgnoreMilitaryExtendedSquitter:         t.IgnoreMilitaryExtendedSquitter,
		SuppressTisbDecoding:                   t.SuppressTisbDecoding,
		TrackingTimeoutSeconds:                 t.TrackingTimeoutSeconds,
	}

	switch {
	case t.ReceiverLatitude != nil && t.ReceiverLongitude != nil:
		s.ReceiverLocation = &cpr.Position{Lat: *t.ReceiverLatitude, Lon: *t.ReceiverLongitude}
	case t.ReceiverLatitude != nil || t.ReceiverLongitude != nil:
		return translator.Settings{}, fmt.Errorf("receiver latitude and longitude must be given together")
	}

	if err := s.Validate(); err != nil {
		return translator.Settings{}, err
	}
	return s, nil
}
