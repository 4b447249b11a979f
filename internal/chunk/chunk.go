// Package chunk splits source text into retrievable pieces and assigns
// each one a deterministic, content-addressed identity.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// namespace is the name-based UUID namespace chunk identity is derived
// from. Re-implementing this service elsewhere must reuse the same
// namespace and hash construction or IDs will not match across runs.
var namespace = uuid.NameSpaceDNS

// Chunk is a unit of retrievable text tagged with the source it came
// from and the caller-supplied domain/topic labels.
type Chunk struct {
	Text       string
	Source     string
	Domain     string
	Topic      string
	ChunkIndex int
	IngestedAt int64 // seconds since epoch
}

// ID computes the deterministic identity of a chunk:
// uuid5(DNS_NAMESPACE, hex(sha256(text || source))).
// The name fed to the UUID generator is the lowercase hex digest, not
// the raw hash bytes. Re-ingesting identical text for the same source
// always yields the same ID, which is what makes ingest idempotent.
func ID(text, source string) uuid.UUID {
	sum := sha256.Sum256([]byte(text + source))
	return uuid.NewSHA1(namespace, []byte(hex.EncodeToString(sum[:])))
}
