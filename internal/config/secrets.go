package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Server
	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = copyStrings(cfg.Notify.Events)
	out.Kafka.Brokers = copyStrings(cfg.Kafka.Brokers)
	out.Account.Tags = copyStrings(cfg.Account.Tags)

	if cfg.Orders != nil {
		out.Orders = make([]OrderConfig, len(cfg.Orders))
		for i, o := range cfg.Orders {
			if o.Algo.Params != nil {
				params := make(map[string]string, len(o.Algo.Params))
				for k, v := range o.Algo.Params {
					params[k] = v
				}
				o.Algo.Params = params
			}
			out.Orders[i] = o
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
