package transfer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"path"
	"strings"
	"time"
)

// Shell runs a command on the destination host.
type Shell interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// RemoteTransfer copies files with rsync over ssh and runs its bookkeeping
// commands (mkdir, md5sum) through Shell.
type RemoteTransfer struct {
	Host    string
	BaseDir string
	KeyPath string
	// KnownHostsPath and InsecureIgnoreHostKey apply to the rsync ssh
	// transport the same way SSHShell applies them.
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	RsyncPath             string
	SSHPath               string
	CmdTimeout            time.Duration
	Shell                 Shell
}

func (rt *RemoteTransfer) Destination(remotePath string) string {
	return resolve(rt.BaseDir, remotePath)
}

func (rt *RemoteTransfer) Copy(ctx context.Context, localPath, remotePath string) error {
	dst := rt.Destination(remotePath)

	if _, err := rt.run(ctx, "mkdir -p "+shellQuote(path.Dir(dst))); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	rsync := rt.RsyncPath
	if rsync == "" {
		rsync = "rsync"
	}

	target, port := rsyncTarget(rt.Host)
	cmd := exec.CommandContext(ctx, rsync, "-t", "-e", rt.sshCommand(port), localPath, target+":"+dst)
	cmd.WaitDelay = time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("rsync %s: %w", localPath, ErrTimeout)
		}
		return fmt.Errorf("rsync %s: %w: %s", localPath, err, strings.TrimSpace(output.String()))
	}
	return nil
}

func (rt *RemoteTransfer) Checksum(ctx context.Context, remotePath string) (string, error) {
	out, err := rt.run(ctx, "md5sum "+shellQuote(rt.Destination(remotePath)))
	if err != nil {
		return "", err
	}
	return parseMD5Output(out)
}

// run bounds a remote command by CmdTimeout.
func (rt *RemoteTransfer) run(ctx context.Context, command string) ([]byte, error) {
	if rt.CmdTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.CmdTimeout)
		defer cancel()
	}

	out, err := rt.Shell.Run(ctx, command)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w", command, ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (rt *RemoteTransfer) sshCommand(port string) string {
	ssh := rt.SSHPath
	if ssh == "" {
		ssh = "ssh"
	}

	parts := []string{ssh, "-o", "BatchMode=yes"}
	if port != "" {
		parts = append(parts, "-p", port)
	}
	if rt.KeyPath != "" {
		parts = append(parts, "-i", shellQuote(rt.KeyPath))
	}
	switch {
	case rt.InsecureIgnoreHostKey:
		parts = append(parts, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	case rt.KnownHostsPath != "":
		parts = append(parts, "-o", "UserKnownHostsFile="+shellQuote(rt.KnownHostsPath))
	}
	return strings.Join(parts, " ")
}

// rsyncTarget splits an explicit port off "[user@]host[:port]", since rsync
// only accepts it through the ssh command.
func rsyncTarget(host string) (string, string) {
	prefix := ""
	if i := strings.LastIndex(host, "@"); i >= 0 {
		prefix, host = host[:i+1], host[i+1:]
	}

	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return prefix + host, ""
	}
	return prefix + h, port
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
