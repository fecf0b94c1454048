package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// uploadIDLen is the number of hex characters taken from the whole-file
// SHA-256 to form the upload id. Identical bytes produce identical ids,
// which is what makes resumption content-addressed.
const uploadIDLen = 32

// FileSHA256 returns the hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256 returns the hex SHA-256 of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MD5 returns the hex MD5 of data. Used for per-chunk integrity only;
// the whole file is always covered by SHA-256.
func MD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// UploadID derives the upload id from a hex SHA-256 digest.
func UploadID(sha256Hex string) string {
	if len(sha256Hex) <= uploadIDLen {
		return sha256Hex
	}
	return sha256Hex[:uploadIDLen]
}
