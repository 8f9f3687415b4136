// Package checksum computes content hashes for documents and cache keys.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Size is the width of a Digest in bytes.
const Size = sha256.Size

// Digest is a fixed-width cache key.
type Digest [Size]byte

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Key returns the digest of text. Texts shorter than Size without a NUL
// byte are copied verbatim and zero padded; all other texts are hashed.
// Hashed keys never end in a zero byte.
func Key(text string) Digest {
	var d Digest
	if len(text) < Size && !strings.Contains(text, "\x00") {
		copy(d[:], text)
		return d
	}
	d = sha256.Sum256([]byte(text))
	if d[Size-1] == 0 {
		d[Size-1] = 1
	}
	return d
}

// Verbatim reports whether d holds the original text rather than a hash.
func (d Digest) Verbatim() bool {
	return d[Size-1] == 0
}

// String returns a printable form: the text itself for verbatim keys, hex
// otherwise.
func (d Digest) String() string {
	if d.Verbatim() {
		return string(bytes.TrimRight(d[:], "\x00"))
	}
	return hex.EncodeToString(d[:])
}

// Hex returns the hex encoding of all Size bytes. Unlike String it is
// unambiguous and usable as a map or cache key.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}
