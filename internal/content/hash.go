package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
)

// Fingerprint returns a short stable fingerprint for a JSON-shaped
// content snapshot. The snapshot is normalized before hashing so that
// two structurally identical snapshots produce the same fingerprint
// regardless of map key order, recursively through nested objects
// (encoding/json serializes map keys sorted).
//
// Fingerprint never fails: if the snapshot cannot be serialized, it
// falls back to a fingerprint over id, updatedAt and status alone and
// logs a warning. A wrong-but-stable fingerprint is preferred over
// crashing the polling loop.
func Fingerprint(snapshot map[string]any) string {
	normalized, err := canonicalize(snapshot)
	if err != nil {
		log.Printf("content: snapshot for %v not serializable, using identity fingerprint: %v", snapshot["id"], err)
		fallback := fmt.Sprintf("%v|%v|%v", snapshot["id"], snapshot["updated_at"], snapshot["status"])
		return shortHash([]byte(fallback))
	}
	return shortHash(normalized)
}

// canonicalize round-trips the value through encoding/json so that any
// struct-shaped input also ends up as sorted-key map output.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize snapshot: %w", err)
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("remarshal snapshot: %w", err)
	}
	return normalized, nil
}

func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
