package main

import (
	"log/slog"

	"github.com/spkmeeting/signal-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: no allowed origins configured (any browser origin may open the signaling WebSocket)",
			"warning_code", "allowed_origins_unset",
			"mode", cfg.Mode,
		)
	} else if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: SPK_SIGNAL_ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.APIKey == "" {
		logger.Warn("startup security warning: SPK_SIGNAL_API_KEY is unset while mode=prod (room membership endpoint is unauthenticated)",
			"warning_code", "api_key_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: SPK_SIGNAL_MAX_MESSAGES_PER_SECOND is unset/0 (inbound message rate is unlimited)",
			"warning_code", "message_rate_unlimited",
			"mode", cfg.Mode,
		)
	}

	// An oversized frame cap weakens the relay's allocation hardening; SDP
	// payloads never legitimately approach this.
	if cfg.MaxMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: SPK_SIGNAL_MAX_MESSAGE_BYTES is very large (increases per-frame allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
