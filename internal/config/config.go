package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"mirrorsync/internal/mirror"
)

// Config represents the main configuration for mirrorsync.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Sync     SyncConfig     `toml:"sync"`
	Jobs     []JobConfig    `toml:"jobs"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds connection settings for the shared photo store.
type DatabaseConfig struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
}

// DSN builds the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(d.Username), url.QueryEscape(d.Password),
		d.Hostname, d.Port, d.Name)
}

// ServerConfig holds settings for the photo server's HTTP API.
type ServerConfig struct {
	APIURL string `toml:"api_url"`
	APIKey string `toml:"api_key"`
}

// SyncConfig holds engine-level settings.
type SyncConfig struct {
	IntervalSeconds int    `toml:"interval_seconds"`
	BatchSize       int    `toml:"batch_size"`
	UploadRoot      string `toml:"upload_root"`
	HealthAddr      string `toml:"health_addr"`
}

// JobConfig is one replication job as written in the config file. IDs are
// kept as strings here; Job() parses and validates them.
type JobConfig struct {
	Name             string `toml:"name"`
	SourceUserID     string `toml:"source_user_id"`
	TargetUserID     string `toml:"target_user_id"`
	TargetLibraryID  string `toml:"target_library_id"`
	SourcePathPrefix string `toml:"source_path_prefix"`
	TargetPathPrefix string `toml:"target_path_prefix"`
	AlbumID          string `toml:"album_id,omitempty"`
}

// NewConfig creates a Config with usable defaults.
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Hostname: "localhost",
			Port:     5432,
			Username: "postgres",
			Password: "postgres",
			Name:     "immich",
		},
		Server: ServerConfig{
			APIURL: "http://immich_server:2283",
		},
		Sync: SyncConfig{
			IntervalSeconds: 60,
			BatchSize:       mirror.DefaultBatchSize,
			UploadRoot:      "/usr/src/app/upload",
			HealthAddr:      ":8080",
		},
		LogLevel: "info",
	}
}

// Validate checks engine-level settings and every job. All config
// normalization happens here; the rest of the program trusts the result.
func (c *Config) Validate() error {
	if c.Sync.IntervalSeconds < 5 {
		return fmt.Errorf("sync.interval_seconds must be at least 5, got %d", c.Sync.IntervalSeconds)
	}
	if c.Sync.UploadRoot == "" {
		return fmt.Errorf("sync.upload_root is required")
	}
	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one [[jobs]] entry is required")
	}
	for i := range c.Jobs {
		if _, err := c.Jobs[i].Job(); err != nil {
			return fmt.Errorf("job %d (%s): %w", i, c.Jobs[i].Name, err)
		}
	}
	return nil
}

// SyncJobs parses every job entry. Call Validate first; this panics on a
// config that never passed validation.
func (c *Config) SyncJobs() []mirror.SyncJob {
	jobs := make([]mirror.SyncJob, 0, len(c.Jobs))
	for i := range c.Jobs {
		job, err := c.Jobs[i].Job()
		if err != nil {
			panic(fmt.Sprintf("unvalidated config: %v", err))
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// Job parses and normalizes one job entry. Path prefixes get a trailing
// slash so prefix matching never crosses into a sibling directory whose
// name shares the prefix.
func (j JobConfig) Job() (mirror.SyncJob, error) {
	var job mirror.SyncJob

	sourceUser, err := uuid.Parse(j.SourceUserID)
	if err != nil {
		return job, fmt.Errorf("invalid source_user_id: %w", err)
	}
	targetUser, err := uuid.Parse(j.TargetUserID)
	if err != nil {
		return job, fmt.Errorf("invalid target_user_id: %w", err)
	}
	if sourceUser == targetUser {
		return job, fmt.Errorf("source_user_id and target_user_id must differ")
	}
	targetLibrary, err := uuid.Parse(j.TargetLibraryID)
	if err != nil {
		return job, fmt.Errorf("invalid target_library_id: %w", err)
	}
	if j.SourcePathPrefix == "" {
		return job, fmt.Errorf("source_path_prefix is required")
	}
	if j.TargetPathPrefix == "" {
		return job, fmt.Errorf("target_path_prefix is required")
	}

	var albumID *uuid.UUID
	if j.AlbumID != "" {
		id, err := uuid.Parse(j.AlbumID)
		if err != nil {
			return job, fmt.Errorf("invalid album_id: %w", err)
		}
		albumID = &id
	}

	name := j.Name
	if name == "" {
		name = fmt.Sprintf("%s->%s", shortID(sourceUser), shortID(targetUser))
	}

	return mirror.SyncJob{
		Name:             name,
		SourceUserID:     sourceUser,
		TargetUserID:     targetUser,
		TargetLibraryID:  targetLibrary,
		SourcePathPrefix: ensureTrailingSlash(j.SourcePathPrefix),
		TargetPathPrefix: ensureTrailingSlash(j.TargetPathPrefix),
		AlbumID:          albumID,
	}, nil
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader, layering it over the
// defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := NewConfig()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// applyEnv overlays secrets from the environment, so credentials can stay
// out of the config file in container deployments.
func (c *Config) applyEnv() {
	if v := os.Getenv("MIRRORSYNC_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("MIRRORSYNC_DB_HOSTNAME"); v != "" {
		c.Database.Hostname = v
	}
	if v := os.Getenv("MIRRORSYNC_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
}

// FromEnv builds a single-job Config purely from environment variables, for
// container deployments that mount no config file. Returns false when the
// job variables are absent. The result goes through the same Validate/Job
// normalization as a file-based config.
func FromEnv() (*Config, bool) {
	job := JobConfig{
		Name:             os.Getenv("MIRRORSYNC_JOB_NAME"),
		SourceUserID:     os.Getenv("MIRRORSYNC_SOURCE_USER_ID"),
		TargetUserID:     os.Getenv("MIRRORSYNC_TARGET_USER_ID"),
		TargetLibraryID:  os.Getenv("MIRRORSYNC_TARGET_LIBRARY_ID"),
		SourcePathPrefix: os.Getenv("MIRRORSYNC_SOURCE_PATH_PREFIX"),
		TargetPathPrefix: os.Getenv("MIRRORSYNC_TARGET_PATH_PREFIX"),
		AlbumID:          os.Getenv("MIRRORSYNC_ALBUM_ID"),
	}
	if job.SourceUserID == "" && job.TargetUserID == "" {
		return nil, false
	}

	cfg := NewConfig()
	cfg.Jobs = []JobConfig{job}

	if v := os.Getenv("MIRRORSYNC_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("MIRRORSYNC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("MIRRORSYNC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("MIRRORSYNC_API_URL"); v != "" {
		cfg.Server.APIURL = v
	}
	if v := os.Getenv("MIRRORSYNC_UPLOAD_ROOT"); v != "" {
		cfg.Sync.UploadRoot = v
	}
	if v := os.Getenv("MIRRORSYNC_SYNC_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.IntervalSeconds = n
		}
	}
	if v := os.Getenv("MIRRORSYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("MIRRORSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.applyEnv()
	return cfg, true
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config. Refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return writeToFile(path, cfg)
}
