package throwaway

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	gossh "golang.org/x/crypto/ssh"

	"github.com/rukai/aws-throwaway/internal/ssh"
)

// Images resolved through the Canonical SSM parameters all log in as this
// user.
const sshUser = "ubuntu"

// NetworkInterface describes one interface attached to a created instance.
type NetworkInterface struct {
	// DeviceIndex is the attachment slot; index 0 is the primary interface
	// the SSH channel and any elastic IP bind to.
	DeviceIndex int32

	// PrivateIP is the interface's address inside the VPC.
	PrivateIP string
}

// EC2Instance is a handle to one created machine. The SSH channel is dialed
// lazily on first use and reused afterwards; the handle is safe for
// concurrent use.
type EC2Instance struct {
	connectIP  string
	publicIP   string
	privateIP  string
	interfaces []NetworkInterface

	host             ssh.HostIdentity
	clientPrivateKey string

	mu     sync.Mutex
	client *gossh.Client
}

// ConnectIP returns the address this handle connects to, public or private
// depending on the session's addressing mode.
func (i *EC2Instance) ConnectIP() string { return i.connectIP }

// PublicIP returns the machine's public address, or "" when it has none.
func (i *EC2Instance) PublicIP() string { return i.publicIP }

// PrivateIP returns the primary interface's address inside the VPC.
func (i *EC2Instance) PrivateIP() string { return i.privateIP }

// NetworkInterfaces returns all attached interfaces, primary first.
func (i *EC2Instance) NetworkInterfaces() []NetworkInterface { return i.interfaces }

// KnownHostsLine returns a known_hosts entry pinning the machine's host key
// at its connect address, for handing to external SSH tooling.
func (i *EC2Instance) KnownHostsLine() string {
	return i.host.KnownHostsLine(i.connectIP)
}

// SSHInstructions returns a copy-pasteable ssh invocation for reaching the
// machine interactively, assuming the session's private key has been written
// to ~/.ssh/aws-throwaway.
func (i *EC2Instance) SSHInstructions() string {
	return fmt.Sprintf("ssh %s@%s -i ~/.ssh/aws-throwaway", sshUser, i.connectIP)
}

// dial returns the cached SSH client, establishing it on first call. The
// host key was generated before launch, so the very first connection is
// already verified against it.
func (i *EC2Instance) dial() (*gossh.Client, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client != nil {
		return i.client, nil
	}

	signer, err := ssh.ParseKey([]byte(i.clientPrivateKey))
	if err != nil {
		return nil, err
	}
	hostKey, err := gossh.ParsePublicKey(i.host.PublicKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing pinned host key: %w", err)
	}
	client, err := ssh.Connect(i.connectIP, 22, sshUser, signer, hostKey)
	if err != nil {
		return nil, err
	}
	i.client = client
	return client, nil
}

// Shell runs cmd on the machine and returns its output and exit code. A
// non-zero exit is reported in the result, not as an error; errors mean the
// command could not be run at all.
func (i *EC2Instance) Shell(ctx context.Context, cmd string) (ssh.Result, error) {
	clog.FromContext(ctx).Debug("running remote command", "host", i.connectIP, "cmd", cmd)
	client, err := i.dial()
	if err != nil {
		return ssh.Result{}, err
	}
	return ssh.Run(client, cmd)
}

// PushFile copies a local file to the machine, preserving its permissions.
func (i *EC2Instance) PushFile(ctx context.Context, localPath, remotePath string) error {
	clog.FromContext(ctx).Debug("pushing file", "host", i.connectIP, "local", localPath, "remote", remotePath)
	client, err := i.dial()
	if err != nil {
		return err
	}
	return ssh.PushFile(client, localPath, remotePath)
}

// PullFile copies a file from the machine to the local filesystem.
func (i *EC2Instance) PullFile(ctx context.Context, remotePath, localPath string) error {
	clog.FromContext(ctx).Debug("pulling file", "host", i.connectIP, "remote", remotePath, "local", localPath)
	client, err := i.dial()
	if err != nil {
		return err
	}
	return ssh.PullFile(client, remotePath, localPath)
}

// SyncPush mirrors a local directory onto the machine with rsync, deleting
// remote files absent locally. Paths follow rsync semantics: a trailing
// slash on localDir copies its contents rather than the directory itself.
func (i *EC2Instance) SyncPush(ctx context.Context, localDir, remoteDir string) error {
	clog.FromContext(ctx).Debug("rsync push", "host", i.connectIP, "local", localDir, "remote", remoteDir)
	return ssh.Rsync(ctx, i.rsyncConfig(), localDir, fmt.Sprintf("%s@%s:%s", sshUser, i.connectIP, remoteDir))
}

// SyncPull mirrors a directory from the machine into a local one, deleting
// local files absent remotely.
func (i *EC2Instance) SyncPull(ctx context.Context, remoteDir, localDir string) error {
	clog.FromContext(ctx).Debug("rsync pull", "host", i.connectIP, "remote", remoteDir, "local", localDir)
	return ssh.Rsync(ctx, i.rsyncConfig(), fmt.Sprintf("%s@%s:%s", sshUser, i.connectIP, remoteDir), localDir)
}

func (i *EC2Instance) rsyncConfig() ssh.RsyncConfig {
	return ssh.RsyncConfig{
		PrivateKeyText: i.clientPrivateKey,
		KnownHostsLine: i.KnownHostsLine(),
	}
}

// Close tears down the SSH channel. The machine itself stays up until the
// session's cleanup runs.
func (i *EC2Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client == nil {
		return nil
	}
	err := i.client.Close()
	i.client = nil
	return err
}
