// Package sshkeys loads SSH client credentials and host key verification for
// shell sessions.
//
// Private keys are read from disk and parsed with an optional passphrase;
// password credentials are offered both as "password" and
// "keyboard-interactive" auth. Host keys are verified against an OpenSSH
// known_hosts file via golang.org/x/crypto/ssh/knownhosts. When no file is
// configured every host key is accepted and its fingerprint is logged.
//
// GenerateKeyPair and SaveKeyPair produce ED25519 keys for the keygen
// command and for in-process test servers.
package sshkeys
