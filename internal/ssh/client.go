package ssh

// client.go implements SSH client construction and remote command execution.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const sshDefaultTimeout = 3 * time.Second

var (
	ErrSSHFailedDial   = fmt.Errorf("failed to establish SSH connection")
	ErrFailedHostParse = fmt.Errorf("failed to parse hostname")
	ErrHostKeyInvalid  = fmt.Errorf("target's host key is invalid")
)

// Connect establishes an SSH connection to 'host' on TCP port 'port'.
//
// 'host' can be a hostname, an ipv4 address or an ipv6 address. If 'port' is
// 0, 22 is used.
//
// 'keypair' is used for public key authentication against 'host'.
//
// Every value in 'hostKeys' is compared against the host key the target
// offers during the handshake; a target presenting none of them is rejected
// with ErrHostKeyInvalid. At least one pinned key is required: this package
// never dials a machine it cannot authenticate.
func Connect(host string, port uint16, user string, keypair ssh.Signer, hostKeys ...ssh.PublicKey) (*ssh.Client, error) {
	if port == 0 {
		port = 22
	}
	if len(hostKeys) == 0 {
		return nil, ErrHostKeyInvalid
	}
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(keypair),
		},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			marshaled := key.Marshal()
			for _, hostKey := range hostKeys {
				if bytes.Equal(hostKey.Marshal(), marshaled) {
					return nil
				}
			}
			return ErrHostKeyInvalid
		},
		Timeout: sshDefaultTimeout,
	}
	target, err := joinHostPort(host, port)
	if err != nil {
		return nil, err
	}
	client, err := ssh.Dial("tcp", target, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSSHFailedDial, err)
	}
	return client, nil
}

// joinHostPort parses and validates 'host' is a valid IPv4 or IPv6 address,
// then joins it with the port in the address-family-specific format.
//
// If 'host' is a hostname, it is resolved first and the first resolved
// address is used.
func joinHostPort(host string, port uint16) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if addr := net.ParseIP(host); addr == nil {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrFailedHostParse, host)
		}
		return joinHostPort(addrs[0], port)
	} else if ipv4 := addr.To4(); ipv4 != nil {
		return fmt.Sprintf("%s:%d", ipv4.String(), port), nil
	} else {
		return fmt.Sprintf("[%s]:%d", addr.String(), port), nil
	}
}

var (
	ErrSessionInit = fmt.Errorf("failed to begin SSH session")
	ErrCMDExec     = fmt.Errorf("failed to execute SSH command")
)

// Result holds the outcome of one remotely executed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes a single command and captures stdout, stderr and the exit
// status. A command exiting non-zero is a successful Run with a non-zero
// ExitCode, not an error; errors are reserved for transport failures.
func Run(client *ssh.Client, cmd string) (Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()
	stdout := new(bytes.Buffer)
	session.Stdout = stdout
	stderr := new(bytes.Buffer)
	session.Stderr = stderr
	err = session.Run(cmd)
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("%w: %w", ErrCMDExec, err)
	}
	return result, nil
}
