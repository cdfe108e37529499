// Package hasher computes the content digests used as cache deduplication keys.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/apod-desktop/apod/pkg/errors"
)

// Hash returns the lower-case hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and returns the digest and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, errors.Wrap(err, "failed to hash stream")
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile returns the digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open file for hashing")
	}
	defer f.Close()

	digest, _, err := HashReader(f)
	return digest, err
}
