package client

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/suprsync/cmd/suprsync/cli"
	"github.com/mwantia/suprsync/pkg/db/models"
	"github.com/mwantia/suprsync/pkg/db/store"
	"github.com/mwantia/suprsync/pkg/ingest"
	"github.com/spf13/cobra"
)

func NewFilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage archived file records",
		Long:  "Register local files for archiving and inspect the state of their records.",
	}

	cmd.AddCommand(NewFilesAddCommand())
	cmd.AddCommand(NewFilesListCommand())
	cmd.AddCommand(NewFilesStatsCommand())

	return cmd
}

func NewFilesAddCommand() *cobra.Command {
	var archive, remotePath, md5sum, timestamp string

	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Register local files for archiving",
		Long: `Registers one or more local files as pending copies.

The md5 checksum is computed when --md5sum is not given. Without --remote-path
the destination path is derived from archive.local_root, or from the first
five digits of the file timestamp.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 && (remotePath != "" || md5sum != "") {
				return fmt.Errorf("--remote-path and --md5sum require a single path")
			}

			var ts time.Time
			if timestamp != "" {
				parsed, err := time.Parse(time.RFC3339, timestamp)
				if err != nil {
					return fmt.Errorf("invalid --timestamp: %w", err)
				}
				ts = parsed
			}

			cfg, st, err := cli.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			ingester := ingest.NewIngester(st, cfg.Archive.Name, cfg.Archive.LocalRoot)
			for _, arg := range args {
				local, err := filepath.Abs(arg)
				if err != nil {
					return err
				}

				file, err := ingester.AddFile(cmd.Context(), ingest.Request{
					ArchiveName: archive,
					LocalPath:   local,
					RemotePath:  remotePath,
					MD5Sum:      md5sum,
					Timestamp:   ts,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s as #%d (%s -> %s)\n", file.LocalPath, file.ID, file.ArchiveName, file.RemotePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&archive, "archive", "", "archive name (defaults to archive.name)")
	cmd.Flags().StringVar(&remotePath, "remote-path", "", "path below the remote base directory")
	cmd.Flags().StringVar(&md5sum, "md5sum", "", "precomputed md5 checksum")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "file timestamp in RFC3339 (defaults to now)")

	return cmd
}

func NewFilesListCommand() *cobra.Command {
	var archive, status string
	var removed, present bool
	var limit int
	var humanReadable bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List file records",
		Long:  "List file records of an archive, oldest first. Use --status failed to show files that were given up.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.ListOptions{
				Status: models.CopyStatus(status),
				Limit:  limit,
			}
			if status != "" && !opts.Status.Valid() {
				return fmt.Errorf("invalid --status '%s' (pending, verified, failed)", status)
			}
			if removed && present {
				return fmt.Errorf("--removed and --present are mutually exclusive")
			}
			if removed || present {
				opts.Removed = &removed
			}

			cfg, st, err := cli.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			opts.ArchiveName = archiveOrDefault(archive, cfg.Archive.Name)

			files, err := st.ListFiles(cmd.Context(), opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tREMOVED\tTIMESTAMP\tSIZE\tLOCAL PATH\tLAST ERROR")
			for _, f := range files {
				fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%s\t%s\t%s\t%s\n",
					f.ID, f.CopyStatus, f.FailedCopyAttempts, f.Removed,
					formatTime(f.Timestamp, humanReadable), fileSize(f, humanReadable), f.LocalPath, f.LastError)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&archive, "archive", "", "archive name (defaults to archive.name)")
	cmd.Flags().StringVar(&status, "status", "", "filter by copy status (pending, verified, failed)")
	cmd.Flags().BoolVar(&removed, "removed", false, "only list records whose local file was removed")
	cmd.Flags().BoolVar(&present, "present", false, "only list records whose local file still exists")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 lists all)")
	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable format")

	return cmd
}

func NewFilesStatsCommand() *cobra.Command {
	var archive string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show record counts of an archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := cli.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			name := archiveOrDefault(archive, cfg.Archive.Name)
			stats, err := st.Stats(cmd.Context(), name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Archive:  %s\n", name)
			fmt.Fprintf(out, "Pending:  %s\n", humanize.Comma(stats.Pending))
			fmt.Fprintf(out, "Verified: %s\n", humanize.Comma(stats.Verified))
			fmt.Fprintf(out, "Failed:   %s\n", humanize.Comma(stats.Failed))
			fmt.Fprintf(out, "Removed:  %s\n", humanize.Comma(stats.Removed))
			return nil
		},
	}

	cmd.Flags().StringVar(&archive, "archive", "", "archive name (defaults to archive.name)")

	return cmd
}

func archiveOrDefault(archive, fallback string) string {
	if archive != "" {
		return archive
	}
	return fallback
}

func formatTime(t time.Time, human bool) string {
	if human {
		return humanize.Time(t)
	}
	return t.UTC().Format(time.RFC3339)
}

func fileSize(f models.File, human bool) string {
	if f.Removed {
		return "-"
	}
	info, err := os.Stat(f.LocalPath)
	if err != nil {
		return "?"
	}
	if human {
		return humanize.Bytes(uint64(info.Size()))
	}
	return fmt.Sprintf("%d", info.Size())
}
