package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// GenerateKeyPair generates an ED25519 key pair and returns the PEM-encoded
// private key and OpenSSH-format public key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// SaveKeyPair writes name (mode 0600) and name.pub (mode 0644) into dir,
// creating dir if needed, and returns the private key path. Existing files
// are not overwritten.
func SaveKeyPair(dir, name string, privateKey, publicKey []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("save key pair: name is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create key directory: %w", err)
	}

	privPath := filepath.Join(dir, name)
	pubPath := privPath + ".pub"
	for _, p := range []string{privPath, pubPath} {
		if _, err := os.Stat(p); err == nil {
			return "", fmt.Errorf("save key pair: %s already exists", p)
		}
	}

	if err := os.WriteFile(privPath, privateKey, 0o600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, publicKey, 0o644); err != nil {
		return "", fmt.Errorf("write public key: %w", err)
	}
	return privPath, nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer. An
// empty passphrase is only valid for unencrypted keys.
func ParsePrivateKey(privateKeyPEM []byte, passphrase string) (ssh.Signer, error) {
	if passphrase == "" {
		signer, err := ssh.ParsePrivateKey(privateKeyPEM)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, fmt.Errorf("parse private key: key is encrypted and no passphrase was given")
			}
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKeyWithPassphrase(privateKeyPEM, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("parse private key with passphrase: %w", err)
	}
	return signer, nil
}

// LoadSigner reads and parses the private key file at path.
func LoadSigner(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(data, passphrase)
}

// AuthMethods builds the client auth methods for the given credentials.
// Public key auth is offered before password auth.
func AuthMethods(password, privateKeyPath, passphrase string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if privateKeyPath != "" {
		signer, err := LoadSigner(privateKeyPath, passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password != "" {
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(passwordChallenge(password)),
		)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no credentials configured")
	}
	return methods, nil
}

// passwordChallenge answers every keyboard-interactive question with the
// password, which is what servers with PasswordAuthentication disabled but
// PAM enabled expect.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}
