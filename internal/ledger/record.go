package ledger

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// GenesisPrevHash is the sentinel predecessor hash of the first record.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is a single entry of the chain.
type Record struct {
	ID        uuid.UUID       `json:"id"`
	Sequence  int64           `json:"sequence"`
	Data      json.RawMessage `json:"data"`
	Hash      string          `json:"hash"`       // SHA-256 of canonical(Data)
	Signature string          `json:"signature"`  // hex Ed25519 signature over Hash
	VerifyKey string          `json:"verify_key"` // hex Ed25519 public key
	PrevHash  string          `json:"prev_hash"`
	Timestamp float64         `json:"timestamp"` // epoch seconds
}

// Time returns the insertion time.
func (r *Record) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// SignatureBytes decodes the hex signature. Malformed signatures decode to nil.
func (r *Record) SignatureBytes() []byte {
	b, err := hex.DecodeString(r.Signature)
	if err != nil {
		return nil
	}
	return b
}

func (r *Record) clone() *Record {
	c := *r
	c.Data = append(json.RawMessage(nil), r.Data...)
	return &c
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// field extracts a top-level string field of the record's data, or "" when
// the data is not an object or the field is not a string.
func (r *Record) field(name string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(r.Data, &obj); err != nil {
		return ""
	}
	raw, ok := obj[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
