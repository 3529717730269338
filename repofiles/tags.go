package repofiles

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/store"
)

// RemoteFileTagsKey is the remote tags map key the encrypted vault
// tags live under.
const RemoteFileTagsKey = "vault"

// FileTags are the plaintext tags of a repo file. EncryptedHash binds
// the tags to a specific ciphertext so a foreign overwrite can be
// detected.
type FileTags struct {
	EncryptedHash []byte            `json:"encryptedHash,omitempty"`
	Hash          []byte            `json:"hash,omitempty"`
	Unknown       map[string]string `json:"unknown,omitempty"`
}

// Encrypt serializes and encrypts the tags for the remote tags map.
func (t *FileTags) Encrypt(c *cipher.Cipher) (string, error) {
	plaintext, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	encrypted, err := c.EncryptBytes(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// DecryptFileTags decodes and decrypts the tags value from the
// remote tags map.
func DecryptFileTags(c *cipher.Cipher, value string) (*FileTags, error) {
	encrypted, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.DecryptBytes(encrypted)
	if err != nil {
		return nil, err
	}
	var tags FileTags
	if err := json.Unmarshal(plaintext, &tags); err != nil {
		return nil, err
	}
	return &tags, nil
}

// decryptRemoteTags builds the tags state of a repo file from the
// remote tags map, verifying the encrypted hash binding against the
// current remote hash.
func decryptRemoteTags(c *cipher.Cipher, remoteTags map[string][]string, remoteHash string) store.RepoFileTags {
	values, ok := remoteTags[RemoteFileTagsKey]
	if !ok || len(values) == 0 {
		return store.RepoFileTags{}
	}
	tags, err := DecryptFileTags(c, values[0])
	if err != nil {
		return store.RepoFileTags{Error: err}
	}
	encryptedHash := hex.EncodeToString(tags.EncryptedHash)
	if len(tags.EncryptedHash) > 0 && remoteHash != "" && encryptedHash != remoteHash {
		return store.RepoFileTags{
			Error: &EncryptedHashMismatchError{
				Expected: encryptedHash,
				Actual:   remoteHash,
			},
		}
	}
	return store.RepoFileTags{
		Hash:          hex.EncodeToString(tags.Hash),
		EncryptedHash: encryptedHash,
		Unknown:       tags.Unknown,
	}
}
