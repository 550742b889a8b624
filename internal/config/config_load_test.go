package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var envVars = []string{
	"SIGNSTAMP_MODE", "SIGNSTAMP_HOST", "SIGNSTAMP_PORT", "SIGNSTAMP_DIR", "SIGNSTAMP_LOG_LEVEL",
	"SIGNSTAMP_MAX_FILE_SIZE", "SIGNSTAMP_FONT", "SIGNSTAMP_STORAGE", "SIGNSTAMP_SIGNED_URL_TTL",
}

// load runs LoadFromFlags with a fresh flag set, viper instance and environment
func load(t *testing.T, env map[string]string, args ...string) (*Config, error) {
	t.Helper()

	originalArgs := os.Args
	t.Cleanup(func() {
		os.Args = originalArgs
		pflag.CommandLine = pflag.NewFlagSet(originalArgs[0], pflag.ExitOnError)
		viper.Reset()
	})

	for _, name := range envVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	os.Args = append([]string{"signstamp"}, args...)
	pflag.CommandLine = pflag.NewFlagSet("signstamp", pflag.ContinueOnError)
	viper.Reset()

	return LoadFromFlags()
}

func TestLoadFromFlags_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := load(t, nil, "--dir="+dir)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != ModeStdio || cfg.Host != DefaultHost || cfg.Port != DefaultPort {
		t.Errorf("LoadFromFlags() = %s", cfg)
	}
	if cfg.LogLevel != "info" || cfg.MaxFileSize != DefaultMaxFileSize {
		t.Errorf("LoadFromFlags() LogLevel = %v MaxFileSize = %v", cfg.LogLevel, cfg.MaxFileSize)
	}
	if cfg.DocumentDirectory != dir {
		t.Errorf("LoadFromFlags() DocumentDirectory = %v, want %v", cfg.DocumentDirectory, dir)
	}
	if len(cfg.FontPaths) != 0 {
		t.Errorf("LoadFromFlags() FontPaths = %v, want none", cfg.FontPaths)
	}
}

func TestLoadFromFlags_ValidFlags(t *testing.T) {
	dir := t.TempDir()
	cfg, err := load(t, nil,
		"--dir="+dir,
		"--mode=server", "--host=0.0.0.0", "--port=9090",
		"--log-level=debug", "--max-file-size=5000",
		"--font=fonts/a.ttf", "--font=fonts/b.ttf",
		"--signature-scale=0.5", "--sheet-cell-ceiling=100", "--signed-url-ttl=2m",
	)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != ModeServer || cfg.Host != "0.0.0.0" || cfg.Port != 9090 {
		t.Errorf("LoadFromFlags() = %s", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.MaxFileSize != 5000 {
		t.Errorf("LoadFromFlags() LogLevel = %v MaxFileSize = %v", cfg.LogLevel, cfg.MaxFileSize)
	}
	if strings.Join(cfg.FontPaths, ",") != "fonts/a.ttf,fonts/b.ttf" {
		t.Errorf("LoadFromFlags() FontPaths = %v", cfg.FontPaths)
	}
	if cfg.SignatureScale != 0.5 || cfg.SheetCellCeiling != 100 || cfg.SignedURLTTL != 2*time.Minute {
		t.Errorf("LoadFromFlags() stamping settings = %v %v %v", cfg.SignatureScale, cfg.SheetCellCeiling, cfg.SignedURLTTL)
	}
}

func TestLoadFromFlags_EnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	cfg, err := load(t, map[string]string{
		"SIGNSTAMP_MODE":          "server",
		"SIGNSTAMP_HOST":          "192.168.1.1",
		"SIGNSTAMP_PORT":          "3000",
		"SIGNSTAMP_DIR":           dir,
		"SIGNSTAMP_LOG_LEVEL":     "warn",
		"SIGNSTAMP_MAX_FILE_SIZE": "200000000",
		"SIGNSTAMP_FONT":          "a.ttf,b.ttf",
	})
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "server" || cfg.Host != "192.168.1.1" || cfg.Port != 3000 {
		t.Errorf("LoadFromFlags() = %s", cfg)
	}
	if cfg.LogLevel != "warn" || cfg.MaxFileSize != 200000000 {
		t.Errorf("LoadFromFlags() LogLevel = %v MaxFileSize = %v", cfg.LogLevel, cfg.MaxFileSize)
	}
	if strings.Join(cfg.FontPaths, "|") != "a.ttf|b.ttf" {
		t.Errorf("LoadFromFlags() FontPaths = %v", cfg.FontPaths)
	}
}

func TestLoadFromFlags_FlagOverridesEnvironment(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"SIGNSTAMP_MODE": "server",
		"SIGNSTAMP_HOST": "192.168.1.1",
		"SIGNSTAMP_PORT": "3000",
	}, "--mode=stdio", "--host=localhost", "--port=8888", "--dir="+t.TempDir())
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "stdio" || cfg.Host != "localhost" || cfg.Port != 8888 {
		t.Errorf("LoadFromFlags() = %s, flags should override env", cfg)
	}
}

func TestLoadFromFlags_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "signstamp.yaml")
	body := "mode: server\nport: 7070\nlabel-font-size: 24\ndir: " + dir + "\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(t, nil, "--config="+file)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}
	if cfg.Mode != ModeServer || cfg.Port != 7070 || cfg.LabelFontSize != 24 || cfg.DocumentDirectory != dir {
		t.Errorf("LoadFromFlags() = %s label=%d", cfg, cfg.LabelFontSize)
	}
}

func TestLoadFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "mode", args: []string{"--mode=invalid"}, wantErr: "mode must be either 'stdio' or 'server'"},
		{name: "port", args: []string{"--mode=server", "--port=99999"}, wantErr: "port must be between 1 and 65535"},
		{name: "log level", args: []string{"--log-level=invalid"}, wantErr: "invalid log level"},
		{name: "storage", args: []string{"--storage=s3"}, wantErr: "bucket"},
		{name: "missing config file", args: []string{"--config=/nonexistent/signstamp.yaml"}, wantErr: "read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, nil, append(tt.args, "--dir="+t.TempDir())...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFromFlags() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFlags_VersionFlag(t *testing.T) {
	_, err := load(t, nil, "--version")
	if !errors.Is(err, ErrVersionRequested) {
		t.Errorf("LoadFromFlags() error = %v, want ErrVersionRequested", err)
	}
}
