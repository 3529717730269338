// Package cipher implements the vault content and name encryption.
//
// File contents are encrypted with XSalsa20-Poly1305 (NaCl secretbox)
// in 64 KiB blocks behind a small file header. File names are
// encrypted deterministically with AES-256 in EME mode, PKCS#7 padded
// and base32 encoded, so that the same name always encrypts to the
// same string and encrypted listings can be diffed by name.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rfjakob/eme"
	"golang.org/x/crypto/scrypt"

	"github.com/rclone/vault/cipher/pkcs7"
)

// Constants
const (
	nameCipherBlockSize = aes.BlockSize
	fileMagic           = "RCLONE\x00\x00"
	fileMagicSize       = len(fileMagic)
	fileNonceSize       = 24
	fileHeaderSize      = fileMagicSize + fileNonceSize
	blockHeaderSize     = 16 // secretbox.Overhead
	blockDataSize       = 64 * 1024
	blockSize           = blockHeaderSize + blockDataSize
)

// Errors returned by cipher
var (
	ErrorBadDecryptUTF8          = errors.New("bad decryption - utf-8 invalid")
	ErrorBadDecryptControlChar   = errors.New("bad decryption - contains control chars")
	ErrorNotAMultipleOfBlocksize = errors.New("not a multiple of blocksize")
	ErrorTooShortAfterDecode     = errors.New("too short after base32 decode")
	ErrorTooLongAfterDecode      = errors.New("too long after base32 decode")
	ErrorEncryptedFileTooShort   = errors.New("file is too short to be encrypted")
	ErrorEncryptedFileBadHeader  = errors.New("file has truncated block header")
	ErrorEncryptedBadMagic       = errors.New("not an encrypted file - bad magic string")
	ErrorEncryptedBadBlockSize   = errors.New("encrypted file has bad block size")
	ErrorEncryptedBadBlock       = errors.New("failed to authenticate decrypted block - bad password?")
	ErrorBadBase32Encoding       = errors.New("bad base32 filename encoding")
	ErrorFileClosed              = errors.New("file already closed")
	ErrorBadSeek                 = errors.New("seek beyond end of file")
)

// defaultSalt is used to derive the keys when the repo has no salt of
// its own.
var defaultSalt = []byte{
	0xA8, 0x0D, 0xF4, 0x3A, 0x8F, 0xBD, 0x03, 0x08,
	0xA7, 0xCA, 0xB8, 0x3E, 0x58, 0x1F, 0x86, 0xB1,
	0xA8, 0x0D, 0xF4, 0x3A, 0x8F, 0xBD, 0x03, 0x08,
	0xA7, 0xCA, 0xB8, 0x3E, 0x58, 0x1F, 0x86, 0xB1,
}

var fileMagicBytes = []byte(fileMagic)

// encodeFilename encodes ciphertext using unpadded lower case base32
// as described in RFC 4648.
func encodeFilename(src []byte) string {
	encoded := base32.HexEncoding.EncodeToString(src)
	encoded = strings.TrimRight(encoded, "=")
	return strings.ToLower(encoded)
}

// decodeFilename decodes a string as encoded by encodeFilename
func decodeFilename(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return nil, ErrorBadBase32Encoding
	}
	// First figure out how many padding characters to add
	roundUpToMultipleOf8 := (len(s) + 7) &^ 7
	equals := roundUpToMultipleOf8 - len(s)
	s = strings.ToUpper(s) + "========"[:equals]
	return base32.HexEncoding.DecodeString(s)
}

// Cipher encrypts and decrypts file contents and file names for one
// repo. It is immutable after construction and safe for concurrent
// use.
type Cipher struct {
	dataKey    [32]byte                  // Key for secretbox
	nameKey    [32]byte                  // Key for EME
	nameTweak  [nameCipherBlockSize]byte // used to tweak the name crypto
	block      gocipher.Block
	buffers    sync.Pool // encrypt/decrypt buffers
	cryptoRand io.Reader // read crypto random numbers from here
}

// New initialises the cipher from the password and salt. An empty
// salt selects the built in one.
func New(password, salt string) (*Cipher, error) {
	c := &Cipher{
		cryptoRand: rand.Reader,
	}
	c.buffers.New = func() interface{} {
		return new([blockSize]byte)
	}
	err := c.deriveKeys(password, salt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// deriveKeys creates all the internal keys from the password passed
// in using scrypt.
//
// If salt is "" we use a fixed salt just to make attackers lives
// slightly harder than using no salt.
//
// Note that empty password makes all 0x00 keys which is used in the
// tests.
func (c *Cipher) deriveKeys(password, salt string) (err error) {
	const keySize = len(c.dataKey) + len(c.nameKey) + len(c.nameTweak)
	saltBytes := defaultSalt
	if salt != "" {
		saltBytes = []byte(salt)
	}
	var key []byte
	if password == "" {
		key = make([]byte, keySize)
	} else {
		key, err = scrypt.Key([]byte(password), saltBytes, 16384, 8, 1, keySize)
		if err != nil {
			return err
		}
	}
	copy(c.dataKey[:], key)
	copy(c.nameKey[:], key[len(c.dataKey):])
	copy(c.nameTweak[:], key[len(c.dataKey)+len(c.nameKey):])
	// Key the name cipher
	c.block, err = aes.NewCipher(c.nameKey[:])
	return err
}

// getBlock gets a block from the pool of size blockSize
func (c *Cipher) getBlock() *[blockSize]byte {
	return c.buffers.Get().(*[blockSize]byte)
}

// putBlock returns a block to the pool of size blockSize
func (c *Cipher) putBlock(buf *[blockSize]byte) {
	c.buffers.Put(buf)
}

// EncryptFilename encrypts a single name segment.
//
// This uses EME with AES.
//
// EME (ECB-Mix-ECB) is a wide-block encryption mode presented in the
// 2003 paper "A Parallelizable Enciphering Mode" by Halevi and
// Rogaway.
//
// This makes for deterministic encryption which is what we want - the
// same filename must encrypt to the same thing otherwise we can't
// find it in a listing.
func (c *Cipher) EncryptFilename(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	paddedPlaintext := pkcs7.Pad(nameCipherBlockSize, []byte(plaintext))
	ciphertext := eme.Transform(c.block, c.nameTweak[:], paddedPlaintext, eme.DirectionEncrypt)
	return encodeFilename(ciphertext)
}

// DecryptFilename decrypts a single name segment.
func (c *Cipher) DecryptFilename(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	rawCiphertext, err := decodeFilename(ciphertext)
	if err != nil {
		return "", err
	}
	if len(rawCiphertext)%nameCipherBlockSize != 0 {
		return "", ErrorNotAMultipleOfBlocksize
	}
	if len(rawCiphertext) == 0 {
		// not possible if decodeFilename() working correctly
		return "", ErrorTooShortAfterDecode
	}
	if len(rawCiphertext) > 2048 {
		return "", ErrorTooLongAfterDecode
	}
	paddedPlaintext := eme.Transform(c.block, c.nameTweak[:], rawCiphertext, eme.DirectionDecrypt)
	plaintext, err := pkcs7.Unpad(nameCipherBlockSize, paddedPlaintext)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", ErrorBadDecryptUTF8
	}
	if strings.ContainsAny(string(plaintext), "\x00\n\r") {
		return "", ErrorBadDecryptControlChar
	}
	return string(plaintext), nil
}

// EncryptPath encrypts a path segment by segment. The root "/" maps
// to "/".
func (c *Cipher) EncryptPath(in string) string {
	if in == "/" {
		return "/"
	}
	segments := strings.Split(in, "/")
	for i := range segments {
		segments[i] = c.EncryptFilename(segments[i])
	}
	return strings.Join(segments, "/")
}

// DecryptPath decrypts a path segment by segment. The root "/" maps
// to "/".
func (c *Cipher) DecryptPath(in string) (string, error) {
	if in == "/" {
		return "/", nil
	}
	segments := strings.Split(in, "/")
	for i := range segments {
		var err error
		segments[i], err = c.DecryptFilename(segments[i])
		if err != nil {
			return "", err
		}
	}
	return strings.Join(segments, "/"), nil
}

// EncryptedSize calculates the size of the data when encrypted. An
// empty file still carries one zero length block so that its
// authenticity can be checked.
func (c *Cipher) EncryptedSize(size int64) int64 {
	blocks, residue := size/blockDataSize, size%blockDataSize
	encryptedSize := int64(fileHeaderSize) + blocks*(blockHeaderSize+blockDataSize)
	if residue != 0 || size == 0 {
		encryptedSize += blockHeaderSize + residue
	}
	return encryptedSize
}

// DecryptedSize calculates the size of the data when decrypted.
func (c *Cipher) DecryptedSize(size int64) (int64, error) {
	size -= int64(fileHeaderSize)
	if size < blockHeaderSize {
		return 0, ErrorEncryptedFileTooShort
	}
	blocks, residue := size/blockSize, size%blockSize
	decryptedSize := blocks * blockDataSize
	if residue != 0 {
		residue -= blockHeaderSize
		if residue < 0 {
			return 0, ErrorEncryptedBadBlockSize
		}
		if residue == 0 && size != blockHeaderSize {
			// a zero length block is only valid as the only
			// block of an empty file
			return 0, ErrorEncryptedBadBlockSize
		}
	}
	return decryptedSize + residue, nil
}
