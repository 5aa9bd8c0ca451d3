package kvstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// record is one index entry. Exactly one of Value and BlobName is set:
// payloads at or above the blob threshold live in the blob store under
// BlobName, smaller payloads are inlined in Value.
type record struct {
	Value      []byte `cbor:"1,keyasint,omitempty"`
	BlobName   string `cbor:"2,keyasint,omitempty"`
	Size       int64  `cbor:"3,keyasint"`
	InsertedAt int64  `cbor:"4,keyasint"`
	AccessedAt int64  `cbor:"5,keyasint"`
}

func (r *record) externalized() bool {
	return r.BlobName != ""
}

func encodeRecord(r *record) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

// blobNameForKey derives the deterministic external name for a key, so a
// key always maps to the same blob file and overwrites replace in place.
func blobNameForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
