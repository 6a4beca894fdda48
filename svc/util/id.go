package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

// idBytes yields 8 hex characters, a 32-bit space. Small enough that we
// keep the existence check and retry loop instead of trusting entropy alone.
const (
	idBytes    = 4
	maxRetries = 5
)

// GenID produces a new paste identifier, retrying on collision. exists is
// consulted against the full row set, soft-deleted rows included, since ids
// are immutable primary keys.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < maxRetries; retry++ {
		buf := make([]byte, idBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		id := hex.EncodeToString(buf)
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.New("id collision after 5 retries")
}
