package archive

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 is the default discovery.Hasher: lowercase hex of the body digest.
type SHA256 struct{}

// Hash never fails; an empty body has a well-defined digest.
func (SHA256) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
