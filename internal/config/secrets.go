package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: secrets are
// replaced by "***" and slices are cloned.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Custody.PrivateKey)
	redact(&out.Custody.KeyPassword)
	redact(&out.Server.APIKey)
	redact(&out.Server.APIKeyHash)
	redact(&out.Oracle.WebhookSecret)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Oracle.Assets = slices.Clone(cfg.Oracle.Assets)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
