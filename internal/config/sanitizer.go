package config

import (
	"encoding/json"
)

// ConfigSanitizer redacts secret-bearing fields before a Config is exposed,
// as ConfigService.GetConfig does when asked to sanitize.
type ConfigSanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultConfigSanitizer implements ConfigSanitizer.
type DefaultConfigSanitizer struct {
	redactionValue string
}

// NewDefaultConfigSanitizer returns a sanitizer using "***REDACTED***".
func NewDefaultConfigSanitizer() ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: "***REDACTED***"}
}

// NewConfigSanitizer returns a sanitizer using a caller-supplied redaction
// value.
func NewConfigSanitizer(redactionValue string) ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: redactionValue}
}

// Sanitize returns a deep copy of cfg with every non-empty secret-bearing
// field replaced by the redaction value.
func (s *DefaultConfigSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)

	sanitized.Database.Password = s.sanitizeIfSet(sanitized.Database.Password)
	sanitized.Database.DSN = s.sanitizeIfSet(sanitized.Database.DSN)

	sanitized.Redis.Password = s.sanitizeIfSet(sanitized.Redis.Password)

	sanitized.Target.Token = s.sanitizeIfSet(sanitized.Target.Token)
	sanitized.Fleet.Token = s.sanitizeIfSet(sanitized.Fleet.Token)

	sanitized.Directory.ClientSecret = s.sanitizeIfSet(sanitized.Directory.ClientSecret)

	sanitized.SMTP.Password = s.sanitizeIfSet(sanitized.SMTP.Password)

	sanitized.Notification.WebhookURL = s.sanitizeIfSet(sanitized.Notification.WebhookURL)

	return sanitized
}

func (s *DefaultConfigSanitizer) deepCopy(cfg *Config) *Config {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var cp Config
	if err := json.Unmarshal(raw, &cp); err != nil {
		return cfg
	}
	return &cp
}

func (s *DefaultConfigSanitizer) sanitizeIfSet(value string) string {
	if value == "" {
		return value
	}
	return s.redactionValue
}
