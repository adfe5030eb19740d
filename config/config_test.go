package config

import (
	"strings"
	"testing"
	"time"
)

func TestBlacklistedGroupIdsParse(t *testing.T) {
	cfg := defaults()
	src := "blacklistedGroupIds=com.voipfuture,org.apache.tomcat\n"
	if err := cfg.applyProperties(strings.NewReader(src)); err != nil {
		t.Fatal(err)
	}

	tt := []struct {
		groupID, artifactID string
		want                bool
	}{
		{"com.voipfuture.test", "x", true},
		{"org.apache.tomcat", "y", true},
		{"org.apache.mina", "z", false},
	}
	for _, tc := range tt {
		if got := cfg.Blacklist.IsAllVersionsBlacklisted(tc.groupID, tc.artifactID); got != tc.want {
			t.Errorf("IsAllVersionsBlacklisted(%q,%q): got %v, want %v", tc.groupID, tc.artifactID, got, tc.want)
		}
	}
}

func TestDurationsAndIntsParse(t *testing.T) {
	cfg := defaults()
	src := `
# comment lines are ignored
updateDelayAfterSuccess=1d
updateDelayAfterFailure=10m
bgUpdateCheckInterval=30s
maxConcurrentThreads=8
dataFile=/var/lib/versiontracker/data.bin
`
	if err := cfg.applyProperties(strings.NewReader(src)); err != nil {
		t.Fatal(err)
	}
	if cfg.UpdateDelayAfterSuccess != 24*time.Hour {
		t.Errorf("UpdateDelayAfterSuccess: got %v, want 24h", cfg.UpdateDelayAfterSuccess)
	}
	if cfg.UpdateDelayAfterFailure != 10*time.Minute {
		t.Errorf("UpdateDelayAfterFailure: got %v, want 10m", cfg.UpdateDelayAfterFailure)
	}
	if cfg.BGUpdateCheckInterval != 30*time.Second {
		t.Errorf("BGUpdateCheckInterval: got %v, want 30s", cfg.BGUpdateCheckInterval)
	}
	if cfg.MaxConcurrentThreads != 8 {
		t.Errorf("MaxConcurrentThreads: got %d, want 8", cfg.MaxConcurrentThreads)
	}
	if cfg.DataFile != "/var/lib/versiontracker/data.bin" {
		t.Errorf("DataFile: got %q", cfg.DataFile)
	}
}

func TestUnrecognizedKeysIgnored(t *testing.T) {
	cfg := defaults()
	src := "someUnknownKey=whatever\n"
	if err := cfg.applyProperties(strings.NewReader(src)); err != nil {
		t.Fatal(err)
	}
	if cfg.DataFile != DefaultDataFile {
		t.Errorf("DataFile should be unchanged, got %q", cfg.DataFile)
	}
}

func TestMalformedDurationErrors(t *testing.T) {
	cfg := defaults()
	src := "bgUpdateCheckInterval=not-a-duration\n"
	if err := cfg.applyProperties(strings.NewReader(src)); err == nil {
		t.Fatal("want error for malformed duration")
	}
}

func TestServerSettingsParse(t *testing.T) {
	cfg := defaults()
	src := `
repositoryBaseUrl=https://internal-mirror.example.com/maven2
listenAddress=127.0.0.1:9090
storageBackend=postgres
databaseUrl=postgres://versiontracker@localhost/versiontracker
`
	if err := cfg.applyProperties(strings.NewReader(src)); err != nil {
		t.Fatal(err)
	}
	if cfg.RepositoryBaseURL != "https://internal-mirror.example.com/maven2" {
		t.Errorf("RepositoryBaseURL: got %q", cfg.RepositoryBaseURL)
	}
	if cfg.ListenAddress != "127.0.0.1:9090" {
		t.Errorf("ListenAddress: got %q", cfg.ListenAddress)
	}
	if cfg.StorageBackend != StorageBackendPostgres {
		t.Errorf("StorageBackend: got %q", cfg.StorageBackend)
	}
	if cfg.DatabaseURL != "postgres://versiontracker@localhost/versiontracker" {
		t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
	}
}

func TestServerSettingsDefaults(t *testing.T) {
	cfg := defaults()
	if cfg.RepositoryBaseURL != DefaultRepositoryBaseURL {
		t.Errorf("RepositoryBaseURL default: got %q", cfg.RepositoryBaseURL)
	}
	if cfg.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress default: got %q", cfg.ListenAddress)
	}
	if cfg.StorageBackend != StorageBackendFlatfile {
		t.Errorf("StorageBackend default: got %q", cfg.StorageBackend)
	}
}

func TestParseConfigDurationSuffixes(t *testing.T) {
	tt := []struct {
		in   string
		want time.Duration
	}{
		{"10s", 10 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"3d", 72 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1h30m", 90 * time.Minute},
	}
	for _, tc := range tt {
		got, err := parseConfigDuration(tc.in)
		if err != nil {
			t.Errorf("parseConfigDuration(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseConfigDuration(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}
