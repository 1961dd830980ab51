package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hashsum returns the hex SHA-256 of the canonical JSON encoding of v.
// encoding/json emits struct fields in declaration order and map keys
// sorted, so two values with identical semantic content hash identically
// regardless of source key order or load order. The hash is used for
// drift and audit detection, not security.
func Hashsum(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Hashed payloads are plain data structs; this cannot fail.
		panic(fmt.Sprintf("compiler: unmarshallable hash payload: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
