package record

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainRecord prefixes record ID hashes.
// Version suffix enables future algorithm migration.
const DomainRecord = "pacer/record/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
