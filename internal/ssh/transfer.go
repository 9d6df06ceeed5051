package ssh

// transfer.go moves single files over an established SSH connection using the
// SFTP subsystem. Directory trees go through rsync instead, see rsync.go.

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var (
	ErrSFTPInit  = fmt.Errorf("failed to begin SFTP subsystem session")
	ErrSFTPWrite = fmt.Errorf("failed to write remote file")
	ErrSFTPRead  = fmt.Errorf("failed to read remote file")
)

// PushFile copies the local file at 'localPath' to 'remotePath', preserving
// the local file's permission bits.
func PushFile(client *ssh.Client, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer local.Close()
	info, err := local.Stat()
	if err != nil {
		return err
	}

	ftp, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPInit, err)
	}
	defer ftp.Close()

	remote, err := ftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	if _, err := io.Copy(remote, local); err != nil {
		_ = remote.Close()
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	if err := remote.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	if err := ftp.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	return nil
}

// PullFile copies the remote file at 'remotePath' to 'localPath'.
func PullFile(client *ssh.Client, remotePath, localPath string) error {
	ftp, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPInit, err)
	}
	defer ftp.Close()

	remote, err := ftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPRead, err)
	}
	defer remote.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	local, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(local, remote); err != nil {
		_ = local.Close()
		return fmt.Errorf("%w: %w", ErrSFTPRead, err)
	}
	return local.Close()
}
