package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path:        "./suprsync.db",
				BusyTimeout: 5000,
				JournalMode: "WAL",
			},
		},

		Archive: ArchiveServerConfig{
			Name:            "",
			RemoteBaseDir:   "",
			LocalRoot:       "",
			DeleteAfter:     "",
			MaxCopyAttempts: 5,
			CmdTimeout:      "5s",
			CopyTimeout:     "30s",
			TimeoutWait:     "20s",
			PollInterval:    "3s",
			SSH: ArchiveSSHConfig{
				RsyncPath: "rsync",
				SSHPath:   "ssh",
			},
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)
	viper.SetDefault("metadata.sqlite.busy_timeout", defaults.Metadata.SQLite.BusyTimeout)
	viper.SetDefault("metadata.sqlite.journal_mode", defaults.Metadata.SQLite.JournalMode)
	viper.SetDefault("metadata.sqlite.debug", defaults.Metadata.SQLite.Debug)

	viper.SetDefault("archive.name", defaults.Archive.Name)
	viper.SetDefault("archive.remote_basedir", defaults.Archive.RemoteBaseDir)
	viper.SetDefault("archive.local_root", defaults.Archive.LocalRoot)
	viper.SetDefault("archive.delete_after", defaults.Archive.DeleteAfter)
	viper.SetDefault("archive.max_copy_attempts", defaults.Archive.MaxCopyAttempts)
	viper.SetDefault("archive.cmd_timeout", defaults.Archive.CmdTimeout)
	viper.SetDefault("archive.copy_timeout", defaults.Archive.CopyTimeout)
	viper.SetDefault("archive.timeout_wait", defaults.Archive.TimeoutWait)
	viper.SetDefault("archive.poll_interval", defaults.Archive.PollInterval)
	viper.SetDefault("archive.ssh.host", defaults.Archive.SSH.Host)
	viper.SetDefault("archive.ssh.key", defaults.Archive.SSH.Key)
	viper.SetDefault("archive.ssh.known_hosts", defaults.Archive.SSH.KnownHosts)
	viper.SetDefault("archive.ssh.insecure_ignore_host_key", defaults.Archive.SSH.InsecureIgnoreHostKey)
	viper.SetDefault("archive.ssh.rsync_path", defaults.Archive.SSH.RsyncPath)
	viper.SetDefault("archive.ssh.ssh_path", defaults.Archive.SSH.SSHPath)
}
