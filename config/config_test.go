package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kbukum/mmalkit/errors"
)

type cameraSection struct {
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	Still   string `mapstructure:"still_encoding"`
	Quality int    `mapstructure:"quality"`
}

type testConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Camera        cameraSection `mapstructure:"camera"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestServiceConfigApplyDefaults(t *testing.T) {
	t.Run("empty environment defaults to development", func(t *testing.T) {
		cfg := ServiceConfig{Name: "picam"}
		cfg.ApplyDefaults()
		if cfg.Environment != "development" {
			t.Errorf("expected 'development', got %q", cfg.Environment)
		}
		if !cfg.Debug {
			t.Error("expected debug=true for development")
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug log level, got %q", cfg.Logging.Level)
		}
		if cfg.Logging.ServiceName != "picam" {
			t.Errorf("expected service name propagated, got %q", cfg.Logging.ServiceName)
		}
	})

	t.Run("production keeps debug false", func(t *testing.T) {
		cfg := ServiceConfig{Name: "picam", Environment: "production"}
		cfg.ApplyDefaults()
		if cfg.Debug {
			t.Error("expected debug=false for production")
		}
		if cfg.Logging.Level != "info" {
			t.Errorf("expected info log level, got %q", cfg.Logging.Level)
		}
	})
}

func TestServiceConfigValidate(t *testing.T) {
	valid := func(env string) ServiceConfig {
		c := ServiceConfig{Name: "picam", Environment: env}
		c.Logging.ApplyDefaults()
		return c
	}
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
		errMsg  string
	}{
		{"valid development", valid("development"), false, ""},
		{"valid production", valid("production"), false, ""},
		{"missing name", ServiceConfig{Environment: "production"}, true, "config.name is required"},
		{"invalid environment", ServiceConfig{Name: "picam", Environment: "lab"}, true, "config.environment must be one of"},
		{"invalid logging", ServiceConfig{Name: "picam", Environment: "staging"}, true, "config.logging"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), tc.errMsg) {
					t.Errorf("expected error containing %q, got %q", tc.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadConfigWithYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
name: picam
environment: staging
camera:
  width: 1280
  height: 720
  still_encoding: jpeg
  quality: 85
`)

	var cfg testConfig
	if err := LoadConfig("picam-yaml-test", &cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Name != "picam" || cfg.Environment != "staging" {
		t.Errorf("unexpected service section %+v", cfg.ServiceConfig)
	}
	if cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 {
		t.Errorf("unexpected resolution %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.Quality != 85 {
		t.Errorf("expected quality 85, got %d", cfg.Camera.Quality)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", "camera:\n  width: 1280\n")
	t.Setenv("PICAMTEST_CAMERA_WIDTH", "1920")
	t.Setenv("PICAMTEST_CAMERA_STILL_ENCODING", "png")

	var cfg testConfig
	err := LoadConfig("picamtest", &cfg, WithConfigFile(path))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Camera.Width != 1920 {
		t.Errorf("expected env override 1920, got %d", cfg.Camera.Width)
	}
	if cfg.Camera.Still != "png" {
		t.Errorf("expected nested underscore key bound, got %q", cfg.Camera.Still)
	}
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "PICAMENV_CAMERA_QUALITY=42\n")
	t.Cleanup(func() { os.Unsetenv("PICAMENV_CAMERA_QUALITY") })

	var cfg testConfig
	err := LoadConfig("picamenv", &cfg,
		WithEnvFile(envPath),
		WithFileSystem(&mockFS{files: map[string]bool{envPath: true}, real: true}),
	)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Camera.Quality != 42 {
		t.Errorf("expected quality from .env, got %d", cfg.Camera.Quality)
	}
}

func TestLoadConfigFlagsWinOverEnv(t *testing.T) {
	t.Setenv("PICAMFLAG_CAMERA_WIDTH", "640")

	fs := pflag.NewFlagSet("picam", pflag.ContinueOnError)
	fs.Int("width", 0, "")
	if err := fs.Parse([]string{"--width=2592"}); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	if err := v.BindPFlag("camera.width", fs.Lookup("width")); err != nil {
		t.Fatal(err)
	}

	var cfg testConfig
	err := LoadConfig("picamflag", &cfg, WithViper(v), WithFileSystem(&mockFS{}))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Camera.Width != 2592 {
		t.Errorf("expected flag value 2592, got %d", cfg.Camera.Width)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("picamdefaults", &cfg,
		WithFileSystem(&mockFS{}),
		WithDefaults(map[string]any{"camera.quality": 90, "name": "picam"}),
	)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Camera.Quality != 90 || cfg.Name != "picam" {
		t.Errorf("expected defaults applied, got %+v", cfg)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("picam", &cfg, WithConfigFile("/nonexistent/path.yml"))
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND for missing explicit file, got %v", err)
	}
}

func TestLoadConfigMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", "camera: [width\n")

	var cfg testConfig
	err := LoadConfig("picam", &cfg, WithConfigFile(path))
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for malformed yaml, got %v", err)
	}
}

func TestResolverWithMockFS(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"./cmd/picam/config.yml": true,
		"./.env":                 true,
	}}
	resolver := &Resolver{FileSystem: fs}
	files := resolver.ResolveFiles("picam", LoaderConfig{})
	if files.ConfigFile != "./cmd/picam/config.yml" {
		t.Errorf("expected config file at ./cmd/picam/config.yml, got %q", files.ConfigFile)
	}
	if files.EnvFile != "./.env" {
		t.Errorf("expected env file ./.env, got %q", files.EnvFile)
	}

	explicit := resolver.ResolveFiles("picam", LoaderConfig{ConfigFile: "/etc/x.yml"})
	if explicit.ConfigFile != "/etc/x.yml" {
		t.Errorf("expected explicit path kept, got %q", explicit.ConfigFile)
	}
}

func TestEnvKeyVariants(t *testing.T) {
	got := envKeyVariants("CAMERA_STILL_QUALITY")
	want := []string{"camera_still_quality", "camera.still.quality", "camera.still_quality", "camera_still.quality"}
	for _, w := range want {
		found := false
		for _, g := range got {
			if g == w {
				found = true
			}
		}
		if !found {
			t.Errorf("expected variant %q in %v", w, got)
		}
	}
	if single := envKeyVariants("DEBUG"); len(single) != 1 || single[0] != "debug" {
		t.Errorf("unexpected single-part variants %v", single)
	}
}

type mockFS struct {
	files map[string]bool
	real  bool
}

func (m *mockFS) Exists(path string) bool { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error {
	if m.real {
		return OSFileSystem{}.LoadEnv(path)
	}
	return nil
}
