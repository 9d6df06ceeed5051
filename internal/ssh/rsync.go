package ssh

// rsync.go syncs directory trees by shelling out to the rsync binary. rsync
// authenticates through the same pinned host identity as the in-process
// client: a fresh identity file and known_hosts file are written to
// permission-restricted temporary storage for the duration of one call and
// removed afterwards, so no long-lived secret material stays on disk.

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"
)

var ErrRsync = fmt.Errorf("rsync failed")

// RsyncConfig carries the credential material one rsync invocation needs.
type RsyncConfig struct {
	// PrivateKeyText is the PEM-encoded OpenSSH client private key.
	PrivateKeyText string
	// KnownHostsLine is the pinned host entry for the target machine.
	KnownHostsLine string
}

// Rsync runs 'rsync --delete -ra <args...>' against the target machine,
// tunnelling over ssh with the config's credential and pinned host key.
// Source/destination arguments use rsync's usual 'user@host:path' syntax.
func Rsync(ctx context.Context, cfg RsyncConfig, args ...string) error {
	keyFile, err := writeTempSecret("aws-throwaway-key-*", cfg.PrivateKeyText)
	if err != nil {
		return err
	}
	defer os.Remove(keyFile)
	knownHostsFile, err := writeTempSecret("aws-throwaway-known-hosts-*", cfg.KnownHostsLine+"\n")
	if err != nil {
		return err
	}
	defer os.Remove(knownHostsFile)

	remoteShell := shellquote.Join(
		"ssh",
		"-i", keyFile,
		"-o", "UserKnownHostsFile "+knownHostsFile,
	)
	rsyncArgs := append([]string{"--delete", "-e", remoteShell, "-ra"}, args...)

	cmd := exec.CommandContext(ctx, "rsync", rsyncArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %w: %s", ErrRsync, err, out)
	}
	return nil
}

// writeTempSecret writes 'content' to a fresh temp file readable only by the
// owner and returns its path.
func writeTempSecret(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Chmod(0o400); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}
