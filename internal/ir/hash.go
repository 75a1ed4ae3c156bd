package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows a future change of algorithm.
const (
	DomainKey    = "sweep/key/v1"
	DomainRecord = "sweep/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// KeyHash returns the fixed-width digest of a correlation key's
// canonical text. Stores index records by it.
func KeyHash(key string) string {
	return hashWithDomain(DomainKey, []byte(key))
}

// RecordID computes the content-addressed ID of a persisted record.
// It is stable for the same run, key and sequence number, which makes
// re-appending a record after a retried write idempotent.
func RecordID(runID, keyHash string, seq int64) string {
	return hashWithDomain(DomainRecord,
		[]byte(runID),
		[]byte(keyHash),
		strconv.AppendInt(nil, seq, 10),
	)
}
