// Package config implements Configuration (§4.10): an opaque bag of
// settings loaded from a Java-properties-style file, with the data file
// path overridable by environment variable.
//
// Grounded on claircore's cmd/libvulnhttp/main.go Config struct (the
// same env-var-first posture, the same "parse once at startup, fail
// fast on malformed input" shape), adapted from goconfig's struct-tag
// binding to a hand-rolled properties reader since no pack dependency
// parses Java .properties files.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/quay/versiontracker/blacklist"
)

// Environment variable names, mirroring the Java system property names
// named in the on-disk protocol.
const (
	EnvConfigFile   = "VERSIONTRACKER_CONFIG_FILE"
	EnvArtifactFile = "VERSIONTRACKER_ARTIFACT_FILE"
)

// Property key names recognized inside the properties file.
const (
	KeyBlacklistedGroupIDs     = "blacklistedGroupIds"
	KeyUpdateDelayAfterSuccess = "updateDelayAfterSuccess"
	KeyUpdateDelayAfterFailure = "updateDelayAfterFailure"
	KeyBGUpdateCheckInterval   = "bgUpdateCheckInterval"
	KeyMaxConcurrentThreads    = "maxConcurrentThreads"
	KeyDataFile                = "dataFile"
	KeyRepositoryBaseURL       = "repositoryBaseUrl"
	KeyListenAddress           = "listenAddress"
	KeyStorageBackend          = "storageBackend"
	KeyDatabaseURL             = "databaseUrl"
)

const (
	DefaultUpdateDelayAfterSuccess = 24 * time.Hour
	DefaultUpdateDelayAfterFailure = 10 * time.Minute
	DefaultBGUpdateCheckInterval   = 15 * time.Minute
	DefaultDataFile                = "versiontracker.dat"
	DefaultRepositoryBaseURL       = "https://repo1.maven.org/maven2"
	DefaultListenAddress           = ":8080"
	// DefaultStorageBackend is the flat-file backend named by
	// StorageBackendFlatfile; Postgres is opt-in via storageBackend=postgres.
	DefaultStorageBackend = StorageBackendFlatfile
)

// Recognized values for the storageBackend property.
const (
	StorageBackendFlatfile = "flatfile"
	StorageBackendPostgres = "postgres"
)

// Configuration is the parsed settings bag consumed by cmd/versiontrackerd.
type Configuration struct {
	Blacklist *blacklist.Blacklist

	UpdateDelayAfterSuccess time.Duration
	UpdateDelayAfterFailure time.Duration
	BGUpdateCheckInterval   time.Duration
	MaxConcurrentThreads    int
	DataFile                string

	// RepositoryBaseURL is the Maven repository UpstreamProvider polls,
	// e.g. Maven Central.
	RepositoryBaseURL string
	// ListenAddress is the admin HTTP listener's bind address.
	ListenAddress string
	// StorageBackend selects between StorageBackendFlatfile (DataFile)
	// and StorageBackendPostgres (DatabaseURL).
	StorageBackend string
	// DatabaseURL is a libpq connection string, used only when
	// StorageBackend is StorageBackendPostgres.
	DatabaseURL string
}

// defaults returns a Configuration with every field at its documented
// default and an empty Blacklist.
func defaults() *Configuration {
	return &Configuration{
		Blacklist:               blacklist.New(),
		UpdateDelayAfterSuccess: DefaultUpdateDelayAfterSuccess,
		UpdateDelayAfterFailure: DefaultUpdateDelayAfterFailure,
		BGUpdateCheckInterval:   DefaultBGUpdateCheckInterval,
		MaxConcurrentThreads:    2 * runtime.GOMAXPROCS(0),
		DataFile:                DefaultDataFile,
		RepositoryBaseURL:       DefaultRepositoryBaseURL,
		ListenAddress:           DefaultListenAddress,
		StorageBackend:          DefaultStorageBackend,
	}
}

// Load reads the configuration named by the VERSIONTRACKER_CONFIG_FILE
// environment variable, if set, falling back to defaults for anything
// it doesn't specify. VERSIONTRACKER_ARTIFACT_FILE, if set, always
// overrides the resulting DataFile.
func Load() (*Configuration, error) {
	cfg := defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config file %s: %w", path, err)
		}
		defer f.Close()
		if err := cfg.applyProperties(f); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if path := os.Getenv(EnvArtifactFile); path != "" {
		cfg.DataFile = path
	}

	return cfg, nil
}

// applyProperties parses r as a properties file and merges recognized
// keys into cfg. Unrecognized keys are ignored.
func (cfg *Configuration) applyProperties(r io.Reader) error {
	props, err := parseProperties(r)
	if err != nil {
		return err
	}

	if v, ok := props[KeyBlacklistedGroupIDs]; ok {
		for _, groupID := range strings.Split(v, ",") {
			groupID = strings.TrimSpace(groupID)
			if groupID == "" {
				continue
			}
			cfg.Blacklist.AddGroupNever(groupID)
		}
	}
	if v, ok := props[KeyUpdateDelayAfterSuccess]; ok {
		d, err := parseConfigDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyUpdateDelayAfterSuccess, err)
		}
		cfg.UpdateDelayAfterSuccess = d
	}
	if v, ok := props[KeyUpdateDelayAfterFailure]; ok {
		d, err := parseConfigDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyUpdateDelayAfterFailure, err)
		}
		cfg.UpdateDelayAfterFailure = d
	}
	if v, ok := props[KeyBGUpdateCheckInterval]; ok {
		d, err := parseConfigDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyBGUpdateCheckInterval, err)
		}
		cfg.BGUpdateCheckInterval = d
	}
	if v, ok := props[KeyMaxConcurrentThreads]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", KeyMaxConcurrentThreads, err)
		}
		cfg.MaxConcurrentThreads = n
	}
	if v, ok := props[KeyDataFile]; ok {
		cfg.DataFile = strings.TrimSpace(v)
	}
	if v, ok := props[KeyRepositoryBaseURL]; ok {
		cfg.RepositoryBaseURL = strings.TrimSpace(v)
	}
	if v, ok := props[KeyListenAddress]; ok {
		cfg.ListenAddress = strings.TrimSpace(v)
	}
	if v, ok := props[KeyStorageBackend]; ok {
		cfg.StorageBackend = strings.TrimSpace(v)
	}
	if v, ok := props[KeyDatabaseURL]; ok {
		cfg.DatabaseURL = strings.TrimSpace(v)
	}
	return nil
}

// parseProperties implements a minimal Java-properties-file reader:
// blank lines and lines beginning with '#' or '!' are ignored, keys
// and values are split on the first '=' or ':', and surrounding
// whitespace is trimmed. Line continuations and unicode escapes are
// not supported.
func parseProperties(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		idx := strings.IndexAny(line, "=:")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		out[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseConfigDuration parses a number followed by one of s|m|h|d|w
// (seconds, minutes, hours, days, weeks). Falls back to
// time.ParseDuration for anything else, so compound forms like "1h30m"
// still work.
func parseConfigDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	suffix := s[len(s)-1]
	var unit time.Duration
	switch suffix {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return time.ParseDuration(s)
	}
	return time.Duration(n) * unit, nil
}
