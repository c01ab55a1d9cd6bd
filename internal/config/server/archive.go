package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ArchiveServerConfig describes the single archive handled by this instance.
type ArchiveServerConfig struct {
	Name          string `mapstructure:"name"           yaml:"name"`
	RemoteBaseDir string `mapstructure:"remote_basedir" yaml:"remote_basedir"`
	LocalRoot     string `mapstructure:"local_root"     yaml:"local_root"`

	// Empty disables deletion of local copies.
	DeleteAfter     string `mapstructure:"delete_after"      yaml:"delete_after"`
	MaxCopyAttempts int    `mapstructure:"max_copy_attempts" yaml:"max_copy_attempts"`

	CmdTimeout   string `mapstructure:"cmd_timeout"   yaml:"cmd_timeout"`
	CopyTimeout  string `mapstructure:"copy_timeout"  yaml:"copy_timeout"`
	TimeoutWait  string `mapstructure:"timeout_wait"  yaml:"timeout_wait"`
	PollInterval string `mapstructure:"poll_interval" yaml:"poll_interval"`

	SSH ArchiveSSHConfig `mapstructure:"ssh" yaml:"ssh"`
}

type ArchiveSSHConfig struct {
	Host                  string `mapstructure:"host"                     yaml:"host"`
	Key                   string `mapstructure:"key"                      yaml:"key"`
	KnownHosts            string `mapstructure:"known_hosts"              yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	RsyncPath             string `mapstructure:"rsync_path"               yaml:"rsync_path"`
	SSHPath               string `mapstructure:"ssh_path"                 yaml:"ssh_path"`
}

// ArchiveTimings holds the parsed duration settings of an archive.
type ArchiveTimings struct {
	DeleteAfter  *time.Duration
	CmdTimeout   time.Duration
	CopyTimeout  time.Duration
	TimeoutWait  time.Duration
	PollInterval time.Duration
}

func (cfg ArchiveServerConfig) IsRemote() bool {
	return cfg.SSH.Host != ""
}

func (cfg ArchiveServerConfig) Validate() error {
	var errs []error

	if cfg.Name == "" {
		errs = append(errs, errors.New("archive.name is required"))
	}
	if cfg.RemoteBaseDir == "" {
		errs = append(errs, errors.New("archive.remote_basedir is required"))
	}
	if cfg.LocalRoot != "" && !filepath.IsAbs(cfg.LocalRoot) {
		errs = append(errs, fmt.Errorf("archive.local_root must be absolute, got '%s'", cfg.LocalRoot))
	}
	if cfg.MaxCopyAttempts < 0 {
		errs = append(errs, fmt.Errorf("archive.max_copy_attempts must not be negative, got %d", cfg.MaxCopyAttempts))
	}
	if cfg.SSH.Key != "" && !cfg.IsRemote() {
		errs = append(errs, errors.New("archive.ssh.key is set but archive.ssh.host is empty"))
	}

	if _, err := cfg.Timings(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (cfg ArchiveServerConfig) Timings() (ArchiveTimings, error) {
	var t ArchiveTimings
	var errs []error

	parse := func(key, value string, dst *time.Duration) {
		d, err := ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive.%s: %w", key, err))
			return
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("archive.%s must be positive, got '%s'", key, value))
			return
		}
		*dst = d
	}

	parse("cmd_timeout", cfg.CmdTimeout, &t.CmdTimeout)
	parse("copy_timeout", cfg.CopyTimeout, &t.CopyTimeout)
	parse("timeout_wait", cfg.TimeoutWait, &t.TimeoutWait)
	parse("poll_interval", cfg.PollInterval, &t.PollInterval)

	if strings.TrimSpace(cfg.DeleteAfter) != "" {
		d, err := ParseDuration(cfg.DeleteAfter)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("archive.delete_after: %w", err))
		case d < 0:
			errs = append(errs, fmt.Errorf("archive.delete_after must not be negative, got '%s'", cfg.DeleteAfter))
		default:
			t.DeleteAfter = &d
		}
	}

	return t, errors.Join(errs...)
}

// ParseDuration accepts Go duration strings ("90s", "1h") as well as a bare
// number of seconds ("3600", "0.5").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty duration")
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}

	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s'", value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
