package server

import (
	"fmt"

	"github.com/mwantia/suprsync/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/mwantia/suprsync/internal/config/server"
)

var agentFlags = map[string]string{
	"archive-name":      "archive.name",
	"remote-basedir":    "archive.remote_basedir",
	"db-path":           "metadata.sqlite.path",
	"ssh-host":          "archive.ssh.host",
	"ssh-key":           "archive.ssh.key",
	"delete-after":      "archive.delete_after",
	"max-copy-attempts": "archive.max_copy_attempts",
	"copy-timeout":      "archive.copy_timeout",
	"cmd-timeout":       "archive.cmd_timeout",
	"timeout-wait":      "archive.timeout_wait",
}

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the SupRsync agent",
		Long: `Start the SupRsync agent for a single archive.

The agent copies every pending file of the archive to its destination,
verifies the copy by md5 checksum and, when delete_after is set, removes
local files that are older than the retention window.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd.Flags(), agentFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("archive-name", "", "name of the archive to synchronize")
	flags.String("remote-basedir", "", "base directory on the destination")
	flags.String("db-path", "", "path to the SQLite database")
	flags.String("ssh-host", "", "destination host as [user@]host[:port]; empty copies locally")
	flags.String("ssh-key", "", "private key used for ssh and rsync")
	flags.String("delete-after", "", "retention window before local files are removed (e.g. 24h or 86400); empty disables deletion")
	flags.Int("max-copy-attempts", 0, "failed copy attempts before a file is given up (0 retries forever)")
	flags.String("copy-timeout", "", "time limit for a single copy")
	flags.String("cmd-timeout", "", "time limit for remote commands")
	flags.String("timeout-wait", "", "cooldown after a timed out copy")

	return cmd
}
