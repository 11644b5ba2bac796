// Package bucket assigns users to the treatment or control group.
//
// The assignment is a pure function of (salt, username): a SHA-256 digest of
// the salted, NFC-normalized username, of which a fixed-width prefix modulo
// the bucket range decides the group. Same inputs always produce the same
// bucket, so the split is reproducible and auditable without persisting a
// per-user coin flip. Changing the salt re-shuffles all future assignments;
// records already written to the store stay authoritative.
package bucket

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultModulus is the bucket range the digest prefix is reduced into.
const DefaultModulus = 1000

// DefaultControlBuckets yields a 50/50 treatment/control split.
const DefaultControlBuckets = 500

// Splitter partitions usernames deterministically.
// The zero value is not usable; construct with NewSplitter.
type Splitter struct {
	salt           string
	modulus        uint64
	controlBuckets uint64
}

// NewSplitter returns a Splitter for the given secret salt.
// controlBuckets of modulus buckets land in the control group; zero disables
// the control group entirely, and values outside [0, modulus] fall back to
// the 50/50 default.
func NewSplitter(salt string, modulus, controlBuckets int) Splitter {
	if modulus <= 0 {
		modulus = DefaultModulus
	}
	if controlBuckets < 0 || controlBuckets > modulus {
		controlBuckets = modulus / 2
	}
	return Splitter{
		salt:           salt,
		modulus:        uint64(modulus),
		controlBuckets: uint64(controlBuckets),
	}
}

// IsControlGroup reports whether username belongs to the control group.
//
// Usernames are NFC-normalized before hashing so display-equivalent names
// bucket identically regardless of how the event feed encoded them.
func (s Splitter) IsControlGroup(username string) bool {
	name := norm.NFC.String(strings.TrimSpace(username))
	digest := sha256.Sum256([]byte(s.salt + name))
	prefix := binary.BigEndian.Uint64(digest[:8])
	return prefix%s.modulus < s.controlBuckets
}
