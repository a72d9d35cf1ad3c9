package grant

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the amounts and thresholds of every grant rule.
type Config struct {
	// BaseAmount is granted for every connection that changes author.
	BaseAmount int64 `json:"base_amount" mapstructure:"base_amount" yaml:"base_amount"`

	// DailyAmount is granted on an author's first connection of a UTC+9 day.
	DailyAmount int64 `json:"daily_amount" mapstructure:"daily_amount" yaml:"daily_amount"`

	// HibernationMinInterval is the quiet period after which a connection
	// counts as breaking hibernation.
	HibernationMinInterval time.Duration `json:"hibernation_min_interval" mapstructure:"hibernation_min_interval" yaml:"hibernation_min_interval"`

	// HibernationCap bounds the hibernation-breaking amount.
	HibernationCap int64 `json:"hibernation_cap" mapstructure:"hibernation_cap" yaml:"hibernation_cap"`

	// NicePassMaxInterval is the window after a hibernation-breaking
	// connection within which the next connection rewards its author.
	NicePassMaxInterval time.Duration `json:"nice_pass_max_interval" mapstructure:"nice_pass_max_interval" yaml:"nice_pass_max_interval"`

	// NicePassMaxAmount is the nice-pass amount for an immediate follow-up.
	NicePassMaxAmount int64 `json:"nice_pass_max_amount" mapstructure:"nice_pass_max_amount" yaml:"nice_pass_max_amount"`

	// SpecialAmount is granted for a special-connection pair.
	SpecialAmount int64 `json:"special_amount" mapstructure:"special_amount" yaml:"special_amount"`

	// SpecialPairs maps the previous post's last kana to the head kana that
	// completes a special connection.
	SpecialPairs map[string]string `json:"special_pairs" mapstructure:"special_pairs" yaml:"special_pairs"`
}

// DefaultSpecialPairs are the phonetic-variant pairs recognized by default.
func DefaultSpecialPairs() map[string]string {
	return map[string]string{
		"ヴ": "ブ",
		"ヲ": "オ",
		"ヰ": "イ",
		"ヱ": "エ",
	}
}

// DefaultConfig returns the standard game rules.
func DefaultConfig() Config {
	return Config{
		BaseAmount:             1,
		DailyAmount:            3,
		HibernationMinInterval: 2 * time.Hour,
		HibernationCap:         15,
		NicePassMaxInterval:    10 * time.Minute,
		NicePassMaxAmount:      5,
		SpecialAmount:          10,
		SpecialPairs:           DefaultSpecialPairs(),
	}
}

// Validate rejects configurations that could persist non-positive amounts.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("grant: %s must be positive, got %d", name, v))
		}
	}
	positive("base_amount", c.BaseAmount)
	positive("daily_amount", c.DailyAmount)
	positive("hibernation_cap", c.HibernationCap)
	positive("nice_pass_max_amount", c.NicePassMaxAmount)
	positive("special_amount", c.SpecialAmount)
	if c.HibernationMinInterval < 0 {
		errs = append(errs, fmt.Errorf("grant: hibernation_min_interval must not be negative, got %s", c.HibernationMinInterval))
	}
	if c.NicePassMaxInterval < time.Second {
		errs = append(errs, fmt.Errorf("grant: nice_pass_max_interval must be at least 1s, got %s", c.NicePassMaxInterval))
	}
	return errors.Join(errs...)
}
