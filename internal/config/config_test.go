package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "x"
  owner_user_ids: [42]
logging:
  level: debug
  console: true
scheduler:
  poll_interval: 500ms
  maintenance_timeout: 2h
  defer_threshold: 0.9
toggles:
  gacha_enabled: true
  pego_enabled: false
  crafting: true
  sparkpowder_enabled: true
stations:
  file: ./stations.yaml
  seeds_230: true
controller:
  driver: exec
  commands:
    gacha: "./run.sh gacha {name}"
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !cfg.Toggles.GachaEnabled || cfg.Toggles.PegoEnabled || !cfg.Toggles.Crafting {
		t.Fatalf("unexpected toggles: %+v", cfg.Toggles)
	}
	if cfg.Scheduler.DeferThreshold != 0.9 {
		t.Fatalf("defer_threshold=%v", cfg.Scheduler.DeferThreshold)
	}
	if got := cfg.Controller.Commands["gacha"]; got != "./run.sh gacha {name}" {
		t.Fatalf("command=%q", got)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		body string
	}{
		{"unknown json field", "c.json", `{"telegram":{"token":"x"},"nope":1}`},
		{"unknown yaml field", "c.yml", "scheduler:\n  workers: 3\n"},
		{"trailing json", "c.json", `{} {}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mut     func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad duration", func(c *Config) { c.Scheduler.PollInterval = "soon" }, "scheduler.poll_interval"},
		{"negative duration", func(c *Config) { c.Controller.ActionTimeout = "-1s" }, "controller.action_timeout"},
		{"threshold", func(c *Config) { c.Scheduler.DeferThreshold = 1.5 }, "defer_threshold"},
		{"driver", func(c *Config) { c.Controller.Driver = "ssh" }, "controller.driver"},
		{"kind", func(c *Config) { c.Controller.Commands = map[string]string{"fishing": "x"} }, "unknown kind"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tc.mut(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "90s", time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatalf("expected negative duration error")
	}
}

func TestParseSignedDuration(t *testing.T) {
	t.Parallel()

	d, err := ParseSignedDuration("scheduler.maintenance_timeout", "-1s")
	if err != nil || d != -time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if _, err := ParseSignedDuration("scheduler.maintenance_timeout", "soon"); err == nil || !strings.Contains(err.Error(), "scheduler.maintenance_timeout") {
		t.Fatalf("err=%v, want field path in error", err)
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yml", nil)
	if err != nil || cfg == nil {
		t.Fatalf("cfg=%v err=%v", cfg, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Ops: OpsConfig{Token: "a"}}
	newCfg := &Config{Ops: OpsConfig{Token: "b"}}
	newCfg.Toggles.PegoEnabled = true

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "toggles" {
		t.Fatalf("changed=%v (token rotation alone must not count)", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	changed, _ = SummarizeConfigChange(nil, &Config{Storage: &StorageConfig{Driver: "file"}})
	if strings.Join(changed, ",") != "storage" {
		t.Fatalf("changed=%v", changed)
	}
}
