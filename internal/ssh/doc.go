// ssh wraps 'x/crypto/ssh' with the pieces aws-throwaway needs to talk to
// the machines it creates:
//   - ED25519 key generation, conversion and marshaling, used for both the
//     client credential and the machine's pre-injected host identity
//   - host identity bootstrap material: the boot-time key replacement script
//     and the pinned known_hosts line that makes the first connection
//     attempt already authenticated
//   - client construction with host key pinning, remote command execution,
//     and file transfer (SFTP for single files, rsync for trees)
//
// NOTE: errors returned by this package are wrapped with well-known
// ('errors.Is(...)') sentinel errors.
package ssh
