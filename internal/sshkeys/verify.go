package sshkeys

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// GetPublicKeyFingerprint calculates the SHA256 fingerprint of an SSH public
// key in authorized_keys format (e.g. "ssh-ed25519 AAAA...").
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}

	return ssh.FingerprintSHA256(parsed), nil
}

// HostKeyCallback returns a callback verifying server host keys against the
// known_hosts file at path. With an empty path every host key is accepted
// and its fingerprint logged, since there is nothing to verify against.
func HostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			log.Warn().
				Str("component", "sshkeys").
				Str("host", hostname).
				Str("fingerprint", ssh.FingerprintSHA256(key)).
				Msg("no known_hosts file configured, accepting host key")
			return nil
		}, nil
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// KnownHostsLine formats a known_hosts entry for the given address and key.
func KnownHostsLine(addr string, key ssh.PublicKey) string {
	return knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
}
