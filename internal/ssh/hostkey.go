package ssh

// hostkey.go prepares the host identity that gets injected into a machine's
// boot process. Pre-generating the host key and pinning it client-side means
// the very first connection attempt is already authenticated: no
// trust-on-first-use prompt and no window in which a man in the middle could
// present its own key.

import (
	"fmt"
	"strings"
)

// HostIdentity is a locally generated SSH host keypair for a machine that
// does not exist yet. The public half travels in boot configuration, the
// private half is written over the machine's generated host key before its
// SSH daemon first advertises one.
type HostIdentity struct {
	// PublicKeyBytes is the SSH wire-format public key, as presented by the
	// server during the handshake.
	PublicKeyBytes []byte
	// PublicKeyText is the OpenSSH one-line text form ("ssh-ed25519 AAAA...").
	PublicKeyText string
	// PrivateKeyText is the PEM-encoded OpenSSH private key.
	PrivateKeyText string
}

// NewHostIdentity generates a fresh ED25519 host identity.
//
// Any failure here is fatal to the whole provisioning attempt: there is no
// degraded mode in which an unauthenticated channel is acceptable.
func NewHostIdentity() (HostIdentity, error) {
	keys, err := NewED25519KeyPair()
	if err != nil {
		return HostIdentity{}, err
	}
	pub, err := keys.Public.ToSSH()
	if err != nil {
		return HostIdentity{}, err
	}
	pubText, err := keys.Public.MarshalOpenSSH()
	if err != nil {
		return HostIdentity{}, err
	}
	privText, err := keys.Private.MarshalOpenSSH("")
	if err != nil {
		return HostIdentity{}, err
	}
	return HostIdentity{
		PublicKeyBytes: pub.Marshal(),
		PublicKeyText:  strings.TrimSpace(string(pubText)),
		PrivateKeyText: string(privText),
	}, nil
}

// BootScript returns the shell script delivered as instance boot data.
//
// The daemon is stopped before either key half is written and started again
// only after both are in place, closing the race where a client connects
// while the machine still advertises its self-generated key. The script is
// idempotent: re-running it rewrites the same material.
func (h HostIdentity) BootScript() string {
	return fmt.Sprintf(`#!/bin/bash
sudo systemctl stop ssh
echo "%s" > /etc/ssh/ssh_host_ed25519_key.pub
echo "%s" > /etc/ssh/ssh_host_ed25519_key

echo "ClientAliveInterval 30" >> /etc/ssh/sshd_config
sudo systemctl start ssh
`, h.PublicKeyText, h.PrivateKeyText)
}

// KnownHostsLine formats a pinned known_hosts entry for 'address', usable
// both by 'x/crypto/knownhosts' and the OpenSSH command line tools.
func (h HostIdentity) KnownHostsLine(address string) string {
	return fmt.Sprintf("%s %s", address, h.PublicKeyText)
}
