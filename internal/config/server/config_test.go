package server

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("archive.name", "timestreams")
	viper.Set("archive.remote_basedir", "/data/archive")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}

	if cfg.Archive.MaxCopyAttempts != 5 {
		t.Errorf("MaxCopyAttempts = %d, want 5", cfg.Archive.MaxCopyAttempts)
	}
	if cfg.Metadata.SQLite.BusyTimeout != 5000 {
		t.Errorf("BusyTimeout = %d, want 5000", cfg.Metadata.SQLite.BusyTimeout)
	}
	if cfg.Archive.SSH.RsyncPath != "rsync" {
		t.Errorf("RsyncPath = %q, want rsync", cfg.Archive.SSH.RsyncPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	timings, err := cfg.Archive.Timings()
	if err != nil {
		t.Fatalf("Timings: %v", err)
	}
	if timings.DeleteAfter != nil {
		t.Errorf("DeleteAfter = %v, want nil (deletion disabled)", *timings.DeleteAfter)
	}
	if timings.CopyTimeout != 30*time.Second {
		t.Errorf("CopyTimeout = %v, want 30s", timings.CopyTimeout)
	}
	if timings.TimeoutWait != 20*time.Second {
		t.Errorf("TimeoutWait = %v, want 20s", timings.TimeoutWait)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := GetServerDefault()
	cfg.Archive.CopyTimeout = "soon"
	cfg.Archive.MaxCopyAttempts = -1
	cfg.Metadata.Type = "postgres"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{
		"archive.name is required",
		"archive.remote_basedir is required",
		"archive.copy_timeout",
		"max_copy_attempts",
		"unsupported store type",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestTimingsDeleteAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"0", 0},
		{"60", time.Minute},
		{"1.5", 1500 * time.Millisecond},
		{"2h", 2 * time.Hour},
	}

	for _, tt := range tests {
		cfg := GetServerDefault().Archive
		cfg.DeleteAfter = tt.value

		timings, err := cfg.Timings()
		if err != nil {
			t.Fatalf("Timings(%q): %v", tt.value, err)
		}
		if timings.DeleteAfter == nil {
			t.Fatalf("Timings(%q): DeleteAfter is nil", tt.value)
		}
		if *timings.DeleteAfter != tt.want {
			t.Errorf("Timings(%q) = %v, want %v", tt.value, *timings.DeleteAfter, tt.want)
		}
	}
}

func TestTimingsRejectsNegativeDeleteAfter(t *testing.T) {
	cfg := GetServerDefault().Archive
	cfg.DeleteAfter = "-5s"

	if _, err := cfg.Timings(); err == nil {
		t.Fatal("expected error for negative delete_after")
	}
}

func TestValidateKeyWithoutHost(t *testing.T) {
	cfg := GetServerDefault()
	cfg.Archive.Name = "smurf"
	cfg.Archive.RemoteBaseDir = "/data"
	cfg.Archive.SSH.Key = "/home/so/.ssh/id_ed25519"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "archive.ssh.host is empty") {
		t.Fatalf("Validate = %v, want ssh host error", err)
	}
}

func TestLogValidate(t *testing.T) {
	cfg := GetServerDefault().Log
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default log config: %v", err)
	}

	cfg.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown level")
	}

	cfg = GetServerDefault().Log
	cfg.NoTerminal = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for no_terminal without file")
	}
}
