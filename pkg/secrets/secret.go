// Package secrets generates swap secrets and their one-way commitments.
//
// A Secret is a 32-byte random value known only to the party that benefits
// from funds moving. Its Commitment (SHA-256 digest) is published on the
// swap record and on both escrows; a revealed secret is only ever compared
// against a commitment, never against another secret.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SecretSize is the fixed length of a swap secret in bytes.
const SecretSize = 32

// Secret is a fixed-length random preimage.
type Secret [SecretSize]byte

// Commitment is the SHA-256 digest of a Secret.
type Commitment [sha256.Size]byte

// Generate produces a cryptographically random Secret and its Commitment.
// An entropy-source failure is fatal and must not be retried.
func Generate() (Secret, Commitment, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, Commitment{}, fmt.Errorf("entropy source failed: %w", err)
	}
	return s, CommitmentOf(s), nil
}

// CommitmentOf computes the commitment for a secret. Pure and deterministic.
func CommitmentOf(s Secret) Commitment {
	return sha256.Sum256(s[:])
}

// Verify reports whether secret hashes to commitment. The comparison runs in
// constant time with respect to the secret value.
func Verify(s Secret, c Commitment) bool {
	got := CommitmentOf(s)
	return subtle.ConstantTimeCompare(got[:], c[:]) == 1
}

// String returns the hex encoding of the commitment.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Hex returns the hex encoding of the secret. Callers log commitments, not
// secrets; this exists for handing the preimage to an escrow adapter.
func (s Secret) Hex() string {
	return hex.EncodeToString(s[:])
}

// SecretFromHex parses a hex-encoded 32-byte secret.
func SecretFromHex(h string) (Secret, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return Secret{}, fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) != SecretSize {
		return Secret{}, fmt.Errorf("secret must be %d bytes, got %d", SecretSize, len(raw))
	}
	var s Secret
	copy(s[:], raw)
	return s, nil
}

// MarshalJSON encodes the commitment as a hex string.
func (c Commitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a hex string commitment.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	var h string
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	parsed, err := CommitmentFromHex(h)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CommitmentFromHex parses a hex-encoded SHA-256 commitment.
func CommitmentFromHex(h string) (Commitment, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return Commitment{}, fmt.Errorf("decode commitment: %w", err)
	}
	if len(raw) != sha256.Size {
		return Commitment{}, fmt.Errorf("commitment must be %d bytes, got %d", sha256.Size, len(raw))
	}
	var c Commitment
	copy(c[:], raw)
	return c, nil
}
