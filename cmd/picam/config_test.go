package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestParseFlags(t *testing.T) {
	v := viper.New()
	o, rest, err := parseFlags([]string{"--width", "640", "-n", "5", "--store", "video"}, v)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if len(rest) != 1 || rest[0] != "video" {
		t.Errorf("expected video command, got %v", rest)
	}
	if o.frames != 5 || !o.store {
		t.Errorf("unexpected options %+v", o)
	}
	if got := v.GetInt("camera.width"); got != 640 {
		t.Errorf("camera.width = %d, want 640", got)
	}
}

func TestParseFlagsUnknown(t *testing.T) {
	if _, _, err := parseFlags([]string{"--bogus"}, viper.New()); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "picam.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testYAML = `
environment: staging
camera:
  width: 320
  height: 240
  still:
    encoding: png
server:
  port: 9090
`

func TestLoadConfigFromFile(t *testing.T) {
	v := viper.New()
	if _, _, err := parseFlags(nil, v); err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	cfg, err := loadConfig(v, options{configFile: writeConfig(t, testYAML)})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.Name != serviceName || cfg.Environment != "staging" {
		t.Errorf("unexpected service section %+v", cfg.ServiceConfig)
	}
	if cfg.Camera.Width != 320 || cfg.Camera.Height != 240 || cfg.Camera.Still.Encoding != "png" {
		t.Errorf("unexpected camera section %+v", cfg.Camera)
	}
	if cfg.Camera.Video.Encoding != "h264" {
		t.Errorf("expected video default h264, got %q", cfg.Camera.Video.Encoding)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Tracing.ServiceName != serviceName || cfg.Metrics.Environment != "staging" {
		t.Errorf("expected telemetry to inherit service identity, got %+v %+v", cfg.Tracing, cfg.Metrics)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	t.Setenv("PICAM_SERVER_PORT", "7070")
	v := viper.New()
	if _, _, err := parseFlags([]string{"--width", "640"}, v); err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	cfg, err := loadConfig(v, options{configFile: writeConfig(t, testYAML)})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Camera.Width != 640 {
		t.Errorf("flag should win over file, width = %d", cfg.Camera.Width)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("environment should win over file, port = %d", cfg.Server.Port)
	}
}

func TestLoadConfigStdoutMovesLogs(t *testing.T) {
	v := viper.New()
	cfg, err := loadConfig(v, options{configFile: writeConfig(t, testYAML), output: "-"})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("expected logs on stderr, got %q", cfg.Logging.Output)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := writeConfig(t, "camera:\n  still:\n    encoding: tiff\n")
	if _, err := loadConfig(viper.New(), options{configFile: path}); err == nil {
		t.Error("expected validation error for unknown encoding")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(viper.New(), options{configFile: "/nonexistent/picam.yml"}); err == nil {
		t.Error("expected error for missing config file")
	}
}
