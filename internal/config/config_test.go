//go:build !integration

package config

import (
	"testing"
	"time"
)

const minimalYAML = `
bot:
  token: ${TEST_BOT_TOKEN}
database:
  url: postgres://u:p@localhost:5432/db
redis:
  url: localhost:6379
security:
  encryption_key: 0123456789abcdef0123456789abcdef
`

func TestParse(t *testing.T) {
	t.Run("should expand env placeholders and apply defaults", func(t *testing.T) {
		t.Setenv("TEST_BOT_TOKEN", "123:abc")
		cfg, err := Parse([]byte(minimalYAML), false)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if cfg.Bot.Token != "123:abc" {
			t.Errorf("expected expanded token, got %q", cfg.Bot.Token)
		}
		if cfg.Scheduler.RenewalCron != "@every 1m" {
			t.Errorf("unexpected renewal cron %q", cfg.Scheduler.RenewalCron)
		}
		if cfg.AI.RequestTimeout != 60*time.Second {
			t.Errorf("unexpected request timeout %v", cfg.AI.RequestTimeout)
		}
		if cfg.Tiers[0].VoiceLimitSeconds != 15 || cfg.Tiers[1].VoiceLimitSeconds != 300 {
			t.Errorf("expected default tier gates, got %+v", cfg.Tiers)
		}
		if cfg.Usage.Timezone != "Europe/Moscow" {
			t.Errorf("unexpected timezone %q", cfg.Usage.Timezone)
		}
	})

	t.Run("should parse durations and tier maps", func(t *testing.T) {
		t.Setenv("TEST_BOT_TOKEN", "x")
		raw := minimalYAML + `
scheduler:
  stale_after: 30m
  retry_intervals: [1h, 2h]
tiers:
  0:
    voice_allowed: false
  2:
    custom_roles: true
`
		cfg, err := Parse([]byte(raw), true)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if cfg.Scheduler.StaleAfter != 30*time.Minute {
			t.Errorf("unexpected stale_after %v", cfg.Scheduler.StaleAfter)
		}
		if len(cfg.Scheduler.RetryIntervals) != 2 || cfg.Scheduler.RetryIntervals[1] != 2*time.Hour {
			t.Errorf("unexpected retry intervals %v", cfg.Scheduler.RetryIntervals)
		}
		if len(cfg.Tiers) != 2 || !cfg.Tiers[2].CustomRoles || cfg.Tiers[0].VoiceAllowed {
			t.Errorf("unexpected tiers %+v", cfg.Tiers)
		}
		if !cfg.Runtime.Dev {
			t.Error("expected dev runtime flag")
		}
	})

	t.Run("should require the bot token", func(t *testing.T) {
		t.Setenv("TEST_BOT_TOKEN", "")
		if _, err := Parse([]byte(minimalYAML), false); err == nil {
			t.Fatal("expected an error for a missing token")
		}
	})

	t.Run("should reject an unknown timezone", func(t *testing.T) {
		t.Setenv("TEST_BOT_TOKEN", "x")
		raw := minimalYAML + "usage:\n  timezone: Nowhere/City\n"
		if _, err := Parse([]byte(raw), false); err == nil {
			t.Fatal("expected an error for a bad timezone")
		}
	})
}
