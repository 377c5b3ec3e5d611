package config

import (
	"maps"
	"slices"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Broker.APIKey)
	redact(&out.Broker.APISecret)
	redact(&out.Broker.SecretPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Trading.Symbols = slices.Clone(cfg.Trading.Symbols)
	out.Trading.Sectors = maps.Clone(cfg.Trading.Sectors)
	if cfg.Trading.CorrelationGroups != nil {
		out.Trading.CorrelationGroups = make(map[string][]string, len(cfg.Trading.CorrelationGroups))
		for k, v := range cfg.Trading.CorrelationGroups {
			out.Trading.CorrelationGroups[k] = slices.Clone(v)
		}
	}
	out.Strategy.Active = slices.Clone(cfg.Strategy.Active)
	out.Strategy.MeanReversion = maps.Clone(cfg.Strategy.MeanReversion)
	out.Strategy.Momentum = maps.Clone(cfg.Strategy.Momentum)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
