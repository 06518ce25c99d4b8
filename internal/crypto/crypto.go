package crypto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/gluk-w/claworc/shellbridge/internal/config"
)

// SecretPrefix marks an encrypted value in the profiles file.
const SecretPrefix = "fernet:"

// ErrNoKey is returned when an encrypted value is used but no key is set.
var ErrNoKey = errors.New("no secret key configured (set " + config.EnvPrefix + "_SECRET_KEY)")

func getKey() (*fernet.Key, error) {
	keyStr := config.Cfg.SecretKey
	if keyStr == "" {
		return nil, ErrNoKey
	}
	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

// GenerateKey returns a new base64-encoded fernet key.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate fernet key: %w", err)
	}
	return k.Encode(), nil
}

// Encrypt returns plaintext as a prefixed fernet token.
func Encrypt(plaintext string) (string, error) {
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return SecretPrefix + string(tok), nil
}

// IsEncrypted reports whether value carries SecretPrefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// Decrypt returns the plaintext of a prefixed token. Values without the
// prefix are returned unchanged so plain and encrypted secrets can be mixed.
func Decrypt(value string) (string, error) {
	token, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return value, nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
