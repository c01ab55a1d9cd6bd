package transfer

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHShell runs commands over a fresh SSH connection per call, so a host
// that went away between iterations never leaves a stale client behind.
type SSHShell struct {
	// Host is "[user@]host[:port]".
	Host                  string
	KeyPath               string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
}

func (s *SSHShell) Run(ctx context.Context, command string) ([]byte, error) {
	username, addr := splitHost(s.Host)

	config, err := s.clientConfig(username)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}
}

func (s *SSHShell) clientConfig(username string) (*ssh.ClientConfig, error) {
	signer, err := s.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if s.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		path := s.KnownHostsPath
		if path == "" {
			path = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		hostKeyCallback, err = knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
		}
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

func (s *SSHShell) signer() (ssh.Signer, error) {
	candidates := []string{s.KeyPath}
	if s.KeyPath == "" {
		candidates = []string{
			filepath.Join(homeDir(), ".ssh", "id_ed25519"),
			filepath.Join(homeDir(), ".ssh", "id_rsa"),
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) && s.KeyPath == "" {
				continue
			}
			return nil, fmt.Errorf("failed to read ssh key %s: %w", path, err)
		}

		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %s: %w", path, err)
		}
		return signer, nil
	}

	return nil, fmt.Errorf("no ssh key configured and no default key found")
}

// splitHost turns "[user@]host[:port]" into a username and dial address.
func splitHost(host string) (string, string) {
	username := ""
	if i := strings.LastIndex(host, "@"); i >= 0 {
		username, host = host[:i], host[i+1:]
	}
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}

	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(strings.Trim(host, "[]"), "22")
	}
	return username, host
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
