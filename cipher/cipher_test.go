package cipher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rclone/vault/lib/readers"
)

func newTestCipher(t *testing.T) *Cipher {
	c, err := New("", "")
	require.NoError(t, err)
	return c
}

func TestNewCipher(t *testing.T) {
	c, err := New("potato", "")
	require.NoError(t, err)
	c2, err := New("potato", "")
	require.NoError(t, err)
	assert.Equal(t, c.dataKey, c2.dataKey)
	assert.Equal(t, c.nameKey, c2.nameKey)
	assert.Equal(t, c.nameTweak, c2.nameTweak)

	c3, err := New("potato", "salt")
	require.NoError(t, err)
	assert.NotEqual(t, c.dataKey, c3.dataKey)
}

func TestEncryptDecryptFilename(t *testing.T) {
	c := newTestCipher(t)
	for _, name := range []string{
		"1",
		"1234567890123456",
		"file.txt",
		"夢", "夢中", "夢中夢",
		"My private documents",
	} {
		encrypted := c.EncryptFilename(name)
		assert.NotEqual(t, name, encrypted)
		decrypted, err := c.DecryptFilename(encrypted)
		require.NoError(t, err, name)
		assert.Equal(t, name, decrypted)
	}
}

func TestEncryptFilenameDeterministic(t *testing.T) {
	c := newTestCipher(t)
	assert.Equal(t, c.EncryptFilename("file.txt"), c.EncryptFilename("file.txt"))

	c2, err := New("", "")
	require.NoError(t, err)
	assert.Equal(t, c.EncryptFilename("file.txt"), c2.EncryptFilename("file.txt"))
}

func TestDecryptFilenameErrors(t *testing.T) {
	c := newTestCipher(t)
	for _, test := range []struct {
		in  string
		err error
	}{
		{"not!valid=", ErrorBadBase32Encoding},
		{"aaaa", ErrorNotAMultipleOfBlocksize},
	} {
		_, err := c.DecryptFilename(test.in)
		assert.Equal(t, test.err, err, test.in)
	}
}

func TestEncryptDecryptPath(t *testing.T) {
	c := newTestCipher(t)

	assert.Equal(t, "/", c.EncryptPath("/"))

	encrypted := c.EncryptPath("/a/b")
	assert.Equal(t, "/"+c.EncryptFilename("a")+"/"+c.EncryptFilename("b"), encrypted)

	decrypted, err := c.DecryptPath(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "/a/b", decrypted)

	root, err := c.DecryptPath("/")
	require.NoError(t, err)
	assert.Equal(t, "/", root)
}

func TestEncryptedSize(t *testing.T) {
	c := newTestCipher(t)
	for _, test := range []struct {
		in       int64
		expected int64
	}{
		{0, 48},
		{1, 32 + 1 + 16},
		{65536, 32 + 65536 + 16},
		{65537, 32 + 65536 + 16 + 1 + 16},
		{1 << 20, 32 + (1 << 20) + 16*16},
	} {
		actual := c.EncryptedSize(test.in)
		assert.Equal(t, test.expected, actual, fmt.Sprintf("EncryptedSize(%d)", test.in))
		recovered, err := c.DecryptedSize(actual)
		require.NoError(t, err)
		assert.Equal(t, test.in, recovered, fmt.Sprintf("DecryptedSize(%d)", actual))
	}
}

func TestDecryptedSizeErrors(t *testing.T) {
	c := newTestCipher(t)
	for _, test := range []struct {
		in  int64
		err error
	}{
		{0, ErrorEncryptedFileTooShort},
		{32, ErrorEncryptedFileTooShort},
		{47, ErrorEncryptedFileTooShort},
		{48 + 1, ErrorEncryptedBadBlockSize},
		{48 + 15, ErrorEncryptedBadBlockSize},
		{32 + blockSize + blockHeaderSize, ErrorEncryptedBadBlockSize},
	} {
		_, err := c.DecryptedSize(test.in)
		assert.Equal(t, test.err, err, fmt.Sprintf("DecryptedSize(%d)", test.in))
	}
}

// roundTripSizes covers block boundaries per the streaming contract
var roundTripSizes = []int{
	0, 1, 2, 15, 16, 17, 1023, 1024, 1025,
	blockDataSize - 1, blockDataSize, blockDataSize + 1,
	2*blockDataSize - 1, 2 * blockDataSize, 2*blockDataSize + 1,
	4*blockDataSize + 17,
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for _, n := range roundTripSizes {
		data := testData(n)

		encrypted, err := c.EncryptBytes(data)
		require.NoError(t, err)
		assert.Equal(t, c.EncryptedSize(int64(n)), int64(len(encrypted)), fmt.Sprintf("size %d", n))

		decrypted, err := c.DecryptBytes(encrypted)
		require.NoError(t, err, fmt.Sprintf("size %d", n))
		assert.Equal(t, data, decrypted, fmt.Sprintf("size %d", n))
	}
}

func TestEncryptDeterministicGivenNonce(t *testing.T) {
	c := newTestCipher(t)
	data := testData(blockDataSize + 17)
	var n nonce

	fh, err := c.newEncrypter(bytes.NewReader(data), &n)
	require.NoError(t, err)
	first, err := io.ReadAll(fh)
	require.NoError(t, err)

	fh, err = c.newEncrypter(bytes.NewReader(data), &n)
	require.NoError(t, err)
	second, err := io.ReadAll(fh)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDecryptTamper(t *testing.T) {
	c := newTestCipher(t)
	data := testData(1024)
	encrypted, err := c.EncryptBytes(data)
	require.NoError(t, err)

	for _, offset := range []int{fileHeaderSize, fileHeaderSize + 1, len(encrypted) - 1} {
		tampered := append([]byte(nil), encrypted...)
		tampered[offset] ^= 0x01
		_, err := c.DecryptBytes(tampered)
		assert.Equal(t, ErrorEncryptedBadBlock, err, fmt.Sprintf("offset %d", offset))
	}
}

func TestDecryptBadMagic(t *testing.T) {
	c := newTestCipher(t)
	encrypted, err := c.EncryptBytes([]byte("hello"))
	require.NoError(t, err)
	encrypted[0] ^= 0x01
	_, err = c.DecryptBytes(encrypted)
	assert.Equal(t, ErrorEncryptedBadMagic, err)
}

func TestDecryptTooShort(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.DecryptBytes([]byte("RCLONE\x00\x00"))
	assert.Equal(t, ErrorEncryptedFileTooShort, err)

	// header only, no blocks
	encrypted, err := c.EncryptBytes(nil)
	require.NoError(t, err)
	_, err = c.DecryptBytes(encrypted[:fileHeaderSize])
	assert.Equal(t, ErrorEncryptedFileTooShort, err)
}

func TestDecryptReadPastEOF(t *testing.T) {
	c := newTestCipher(t)
	encrypted, err := c.EncryptBytes([]byte("test"))
	require.NoError(t, err)

	out, err := c.DecryptData(io.NopCloser(bytes.NewReader(encrypted)))
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("test"), data)

	var buf [16]byte
	n, err := out.Read(buf[:])
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}

func TestDecryptDataSeek(t *testing.T) {
	c := newTestCipher(t)
	data := testData(2*blockDataSize + 17)
	encrypted, err := c.EncryptBytes(data)
	require.NoError(t, err)

	open := func(ctx context.Context, offset, limit int64) (io.ReadCloser, error) {
		in := bytes.NewReader(encrypted)
		_, err := in.Seek(offset, io.SeekStart)
		if err != nil {
			return nil, err
		}
		var rc io.ReadCloser = io.NopCloser(in)
		if limit >= 0 {
			rc = readers.NewLimitedReadCloser(rc, limit)
		}
		return rc, nil
	}

	for _, offset := range []int64{0, 1, 16, blockDataSize - 1, blockDataSize, blockDataSize + 1, int64(len(data)) - 1, int64(len(data))} {
		fh, err := c.DecryptDataSeek(context.Background(), open, offset, -1)
		require.NoError(t, err, fmt.Sprintf("offset %d", offset))
		out, err := io.ReadAll(fh)
		require.NoError(t, err, fmt.Sprintf("offset %d", offset))
		assert.Equal(t, data[offset:], out, fmt.Sprintf("offset %d", offset))
		require.NoError(t, fh.Close())
	}

	// seek with a limit
	fh, err := c.DecryptDataSeek(context.Background(), open, 10, 100)
	require.NoError(t, err)
	out, err := io.ReadAll(fh)
	require.NoError(t, err)
	assert.Equal(t, data[10:110], out)

	// reuse the handle for another range
	_, err = fh.RangeSeek(context.Background(), blockDataSize+5, io.SeekStart, 7)
	require.NoError(t, err)
	out, err = io.ReadAll(fh)
	require.NoError(t, err)
	assert.Equal(t, data[blockDataSize+5:blockDataSize+12], out)
	require.NoError(t, fh.Close())
}

func TestNonceIncrement(t *testing.T) {
	var n nonce
	n[0] = 0xff
	n.increment()
	assert.Equal(t, nonce{0, 1}, n)
}

func TestNonceAdd(t *testing.T) {
	var n nonce
	n[0] = 0xff
	n.add(0x01)
	assert.Equal(t, nonce{0, 1}, n)

	var n2 nonce
	for i := 0; i < 9; i++ {
		n2[i] = 0xff
	}
	n2.add(1)
	expected := nonce{}
	expected[9] = 1
	assert.Equal(t, expected, n2)
}

func TestEmptyPasswordKeys(t *testing.T) {
	c := newTestCipher(t)
	assert.Equal(t, [32]byte{}, c.dataKey)
	assert.Equal(t, [32]byte{}, c.nameKey)
}
