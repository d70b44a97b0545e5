// Package canonical produces the deterministic JSON form of a structured value
// and the SHA-256 digest used as a ledger record's hash.
//
// Two values that are structurally equal always serialise to the same bytes:
// object keys are sorted at every nesting level (UTF-16 code unit order),
// strings are NFC normalised and written without HTML escaping, numbers are
// rendered from their numeric value rather than their source text, and no
// insignificant whitespace is emitted.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrUnsupported is wrapped by every error caused by a value that has no
// JSON representation (channels, functions, NaN, infinities, ...).
var ErrUnsupported = errors.New("canonical: unsupported value")

// Marshal returns the canonical encoding of v.
//
// The result is what the ledger stores, so it is the normalised form of the
// input: strings are NFC normalised and numbers are rewritten in their
// shortest form. Strings that are not valid UTF-8 are rejected rather than
// repaired.
//
// v may be any JSON-compatible Go value: maps with string keys, slices,
// strings, booleans, numeric types, json.Number, json.RawMessage, nil, or a
// struct that encoding/json can marshal.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalRaw decodes raw JSON text and returns its canonical encoding.
func MarshalRaw(raw []byte) ([]byte, error) {
	v, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Marshal(v)
}

// Decode parses raw JSON text into a generic value, keeping numbers as
// json.Number so no precision is lost before canonicalisation.
func Decode(raw []byte) (any, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrUnsupported)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrUnsupported, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after json value", ErrUnsupported)
	}
	return v, nil
}

// Hash returns the hex-encoded SHA-256 of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// HashRaw returns the hex-encoded SHA-256 of the canonical form of raw JSON.
func HashRaw(raw []byte) (string, error) {
	b, err := MarshalRaw(raw)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// Sum returns the lowercase hex SHA-256 digest of b.
func Sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeString(buf, val)
	case json.Number:
		return encodeNumber(buf, val)
	case json.RawMessage:
		inner, err := Decode(val)
		if err != nil {
			return err
		}
		return encode(buf, inner)
	case float64:
		return encodeFloat(buf, val)
	case float32:
		return encodeFloat(buf, float64(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case []any:
		return encodeArray(buf, val)
	case map[string]any:
		return encodeObject(buf, val)
	default:
		return encodeReflect(buf, v)
	}
	return nil
}

// encodeReflect round-trips values without a direct case (structs, typed
// maps and slices) through encoding/json, then canonicalises the result.
func encodeReflect(buf *bytes.Buffer, v any) error {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %T: %v", ErrUnsupported, v, err)
	}
	generic, err := Decode(raw)
	if err != nil {
		return err
	}
	return encode(buf, generic)
}

func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid UTF-8 in string %q", ErrUnsupported, s)
	}
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return fmt.Errorf("%w: string: %v", ErrUnsupported, err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// encodeNumber keeps integer literals exact at any magnitude. Only literals
// with a fraction or exponent go through float64.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	if !strings.ContainsAny(s, ".eE") {
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("%w: number %q", ErrUnsupported, s)
		}
		buf.WriteString(i.String())
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: number %q: %v", ErrUnsupported, s, err)
	}
	return encodeFloat(buf, f)
}

// encodeFloat writes integral values below 1e21 without a fraction or
// exponent and everything else in shortest round-trip form.
func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: non-finite number %v", ErrUnsupported, f)
	}
	if f == 0 {
		buf.WriteString("0")
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, elem); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sortUTF16(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return fmt.Errorf("%q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// sortUTF16 orders keys by their UTF-16 code units.
func sortUTF16(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a := utf16.Encode([]rune(keys[i]))
		b := utf16.Encode([]rune(keys[j]))
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}
