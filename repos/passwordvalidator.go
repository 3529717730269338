package repos

import (
	"crypto/subtle"
	"encoding/base64"

	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/lib/random"
)

// GeneratePasswordValidator creates a fresh random validator and its
// encryption under the repo cipher. The validator lets a password be
// verified without trial decryption of file content.
func GeneratePasswordValidator(c *cipher.Cipher) (validator string, encrypted string, err error) {
	// 96 bits make a 16 character base64 string
	validator, err = random.Password(96)
	if err != nil {
		return "", "", err
	}
	encryptedBytes, err := c.EncryptBytes([]byte(validator))
	if err != nil {
		return "", "", err
	}
	return validator, base64.StdEncoding.EncodeToString(encryptedBytes), nil
}

// CheckPasswordValidator verifies a cipher against the stored
// validator pair. The comparison is constant time.
func CheckPasswordValidator(c *cipher.Cipher, validator, encrypted string) bool {
	encryptedBytes, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return false
	}
	decrypted, err := c.DecryptBytes(encryptedBytes)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decrypted, []byte(validator)) == 1
}
