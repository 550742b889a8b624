package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/kwonno/O2-maintenance-sub000/internal/logging"
	"github.com/kwonno/O2-maintenance-sub000/internal/pdf/wrapper"
	"github.com/kwonno/O2-maintenance-sub000/internal/stamp"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Storage backends
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageS3     = "s3"

	// Default values
	DefaultPort             = 8080
	DefaultHost             = "127.0.0.1"
	DefaultLogLevel         = "info"
	DefaultLogEnv           = "dev"
	DefaultMaxFileSize      = 50 * 1024 * 1024 // 50MB
	DefaultSignedURLTTL     = 15 * time.Minute
	DefaultSheetCellCeiling = 20000
	DefaultPreviewWidth     = 816
	DefaultPreviewHeight    = 1056

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "SIGNSTAMP"
)

// Config holds all configuration for the signature stamping server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Document storage
	DocumentDirectory string
	StorageBackend    string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	SignedURLSecret   string
	SignedURLTTL      time.Duration

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	LogEnv      string
	MaxFileSize int64 // Maximum document or image size in bytes

	// Stamping
	FontPaths        []string
	FontCacheDir     string
	SignatureScale   float64
	LabelFontSize    int
	SheetImageWidth  int
	SheetImageHeight int

	// Preview
	PDFLibrary       string
	PreviewWidth     int
	PreviewHeight    int
	SheetCellCeiling int
}

// PreviewSettings is the renderer configuration derived from Config
type PreviewSettings struct {
	Library         wrapper.LibraryType
	ContainerWidth  float64
	ContainerHeight float64
	CellCeiling     int
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:              ModeStdio,
		Host:              DefaultHost,
		Port:              DefaultPort,
		DocumentDirectory: currentDir,
		StorageBackend:    StorageLocal,
		SignedURLTTL:      DefaultSignedURLTTL,
		Version:           "1.0.0",
		ServerName:        "signstamp",
		LogLevel:          DefaultLogLevel,
		LogEnv:            DefaultLogEnv,
		MaxFileSize:       DefaultMaxFileSize,
		FontCacheDir:      filepath.Join(os.TempDir(), "signstamp-fonts"),
		SignatureScale:    stamp.DefaultSignatureScale,
		LabelFontSize:     stamp.DefaultLabelFontSize,
		SheetImageWidth:   stamp.DefaultSheetImageWidth,
		SheetImageHeight:  stamp.DefaultSheetImageHeight,
		PDFLibrary:        string(wrapper.LibraryAuto),
		PreviewWidth:      DefaultPreviewWidth,
		PreviewHeight:     DefaultPreviewHeight,
		SheetCellCeiling:  DefaultSheetCellCeiling,
	}
}

// ErrVersionRequested is returned by LoadFromFlags when --version is on the command line
var ErrVersionRequested = errors.New("version requested")

// LoadFromFlags parses command line flags, the optional config file and SIGNSTAMP_ env vars
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	populateConfigFromViper(cfg)

	if cfg.DocumentDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.DocumentDirectory); err == nil {
			cfg.DocumentDirectory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults.
// Flag names are kebab-case; SIGNSTAMP_LOG_LEVEL maps to log-level.
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.DocumentDirectory)
	viper.SetDefault("log-level", cfg.LogLevel)
	viper.SetDefault("log-env", cfg.LogEnv)
	viper.SetDefault("max-file-size", cfg.MaxFileSize)
	viper.SetDefault("storage", cfg.StorageBackend)
	viper.SetDefault("signed-url-ttl", cfg.SignedURLTTL)
	viper.SetDefault("font-cache-dir", cfg.FontCacheDir)
	viper.SetDefault("signature-scale", cfg.SignatureScale)
	viper.SetDefault("label-font-size", cfg.LabelFontSize)
	viper.SetDefault("sheet-image-width", cfg.SheetImageWidth)
	viper.SetDefault("sheet-image-height", cfg.SheetImageHeight)
	viper.SetDefault("pdf-library", cfg.PDFLibrary)
	viper.SetDefault("preview-width", cfg.PreviewWidth)
	viper.SetDefault("preview-height", cfg.PreviewHeight)
	viper.SetDefault("sheet-cell-ceiling", cfg.SheetCellCeiling)
}

// flagNames lists every flag bound into viper
var flagNames = []string{
	"config", "mode", "host", "port", "dir", "log-level", "log-env", "max-file-size",
	"storage", "s3-bucket", "s3-region", "s3-endpoint", "s3-prefix", "signed-url-secret", "signed-url-ttl",
	"font", "font-cache-dir", "signature-scale", "label-font-size", "sheet-image-width", "sheet-image-height",
	"pdf-library", "preview-width", "preview-height", "sheet-cell-ceiling",
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("config", "", "Optional config file (yaml, json or toml)")
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.DocumentDirectory, "Directory holding documents and signature images (local storage)")
	pflag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.String("log-env", cfg.LogEnv, "Log encoding: 'dev' for console, 'prod' for JSON")
	pflag.Int64("max-file-size", cfg.MaxFileSize, "Maximum document or image size in bytes")

	pflag.String("storage", cfg.StorageBackend, "Storage backend: local, memory or s3")
	pflag.String("s3-bucket", "", "S3 bucket (s3 storage)")
	pflag.String("s3-region", "", "S3 region (s3 storage)")
	pflag.String("s3-endpoint", "", "Custom S3 endpoint, e.g. for MinIO (s3 storage)")
	pflag.String("s3-prefix", "", "Key prefix inside the bucket (s3 storage)")
	pflag.String("signed-url-secret", "", "HMAC secret for local signed URLs")
	pflag.Duration("signed-url-ttl", cfg.SignedURLTTL, "Lifetime of signed download URLs")

	pflag.StringSlice("font", nil, "Bundled TrueType font for labels, in preference order (repeatable)")
	pflag.String("font-cache-dir", cfg.FontCacheDir, "Directory for installed font metrics")
	pflag.Float64("signature-scale", cfg.SignatureScale, "Pixel to point scale of the PDF signature image")
	pflag.Int("label-font-size", cfg.LabelFontSize, "Label font size in points")
	pflag.Int("sheet-image-width", cfg.SheetImageWidth, "Maximum signature width on spreadsheets in pixels")
	pflag.Int("sheet-image-height", cfg.SheetImageHeight, "Maximum signature height on spreadsheets in pixels")

	pflag.String("pdf-library", cfg.PDFLibrary, "PDF geometry backend: pdfcpu, ledongthuc or auto")
	pflag.Int("preview-width", cfg.PreviewWidth, "Preview container width in pixels")
	pflag.Int("preview-height", cfg.PreviewHeight, "Preview container height in pixels")
	pflag.Int("sheet-cell-ceiling", cfg.SheetCellCeiling, "Largest grid rendered as a spreadsheet preview")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range flagNames {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nsignstamp - places and stamps signatures on PDF and spreadsheet documents\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --dir=/srv/documents                          # stdio mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --font=fonts/NotoSansKR.ttf    # server mode with a CJK label font\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --storage=s3 --s3-bucket=docs  # S3 backed\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  Every flag can be set as %s_<FLAG>, upper-cased with '-' as '_'\n", envPrefix)
		fmt.Fprintf(os.Stderr, "  e.g. %s_LOG_LEVEL=debug %s_FONT=a.ttf,b.ttf\n", envPrefix, envPrefix)
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return ErrVersionRequested
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DocumentDirectory = viper.GetString("dir")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.LogEnv = viper.GetString("log-env")
	cfg.MaxFileSize = viper.GetInt64("max-file-size")

	cfg.StorageBackend = viper.GetString("storage")
	cfg.S3Bucket = viper.GetString("s3-bucket")
	cfg.S3Region = viper.GetString("s3-region")
	cfg.S3Endpoint = viper.GetString("s3-endpoint")
	cfg.S3Prefix = viper.GetString("s3-prefix")
	cfg.SignedURLSecret = viper.GetString("signed-url-secret")
	cfg.SignedURLTTL = viper.GetDuration("signed-url-ttl")

	cfg.FontPaths = splitList(viper.GetStringSlice("font"))
	cfg.FontCacheDir = viper.GetString("font-cache-dir")
	cfg.SignatureScale = viper.GetFloat64("signature-scale")
	cfg.LabelFontSize = viper.GetInt("label-font-size")
	cfg.SheetImageWidth = viper.GetInt("sheet-image-width")
	cfg.SheetImageHeight = viper.GetInt("sheet-image-height")

	cfg.PDFLibrary = viper.GetString("pdf-library")
	cfg.PreviewWidth = viper.GetInt("preview-width")
	cfg.PreviewHeight = viper.GetInt("preview-height")
	cfg.SheetCellCeiling = viper.GetInt("sheet-cell-ceiling")
}

// splitList flattens comma-separated entries; env values arrive as one string
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	switch c.StorageBackend {
	case StorageLocal:
		if err := c.validateDocumentDirectory(); err != nil {
			return err
		}
	case StorageMemory:
	case StorageS3:
		if c.S3Bucket == "" {
			return errors.New("s3 storage requires a bucket")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be one of: local, memory, s3)", c.StorageBackend)
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.SignedURLTTL <= 0 {
		return errors.New("signed URL lifetime must be positive")
	}
	if c.SignatureScale <= 0 {
		return errors.New("signature scale must be positive")
	}
	if c.LabelFontSize <= 0 {
		return errors.New("label font size must be positive")
	}
	if c.SheetImageWidth <= 0 || c.SheetImageHeight <= 0 {
		return errors.New("sheet image bounds must be positive")
	}
	if c.PreviewWidth <= 0 || c.PreviewHeight <= 0 {
		return errors.New("preview container size must be positive")
	}
	if c.SheetCellCeiling <= 0 {
		return errors.New("sheet cell ceiling must be positive")
	}
	if _, err := wrapper.ParseLibraryType(c.PDFLibrary); err != nil {
		return err
	}

	if !logging.IsValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(logging.ValidLogLevels, ", "))
	}
	if c.LogEnv != "dev" && c.LogEnv != "prod" {
		return fmt.Errorf("invalid log env: %s (must be 'dev' or 'prod')", c.LogEnv)
	}

	return nil
}

// validateDocumentDirectory checks the local storage root, creating it if missing
func (c *Config) validateDocumentDirectory() error {
	if c.DocumentDirectory == "" {
		return errors.New("document directory cannot be empty")
	}

	if _, err := os.Stat(c.DocumentDirectory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.DocumentDirectory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create document directory %s: %w", c.DocumentDirectory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access document directory %s: %w", c.DocumentDirectory, err)
	}
	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration. Secrets are omitted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, Storage: %s, DocumentDirectory: %s, LogLevel: %s, MaxFileSize: %d, Fonts: %d}",
		c.Mode, c.Host, c.Port, c.StorageBackend, c.DocumentDirectory, c.LogLevel, c.MaxFileSize, len(c.FontPaths))
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}

// BundledFont is the embedded Latin font tried after every configured font
var BundledFont = stamp.StaticFontSource{Label: "GoRegular", Data: goregular.TTF}

// StampOptions projects the stamping settings into engine options
func (c *Config) StampOptions() stamp.Options {
	return stamp.Options{
		FontSources:      append(stamp.FileFontSources(c.FontPaths...), BundledFont),
		FontCacheDir:     c.FontCacheDir,
		SignatureScale:   c.SignatureScale,
		LabelFontSize:    c.LabelFontSize,
		SheetImageWidth:  c.SheetImageWidth,
		SheetImageHeight: c.SheetImageHeight,
	}
}

// PreviewOptions projects the preview settings. An unknown library falls back to auto.
func (c *Config) PreviewOptions() PreviewSettings {
	lib, err := wrapper.ParseLibraryType(c.PDFLibrary)
	if err != nil {
		lib = wrapper.LibraryAuto
	}
	return PreviewSettings{
		Library:         lib,
		ContainerWidth:  float64(c.PreviewWidth),
		ContainerHeight: float64(c.PreviewHeight),
		CellCeiling:     c.SheetCellCeiling,
	}
}
