// Package canon implements the two canonical serializers the CAS's object
// identity depends on: canonical JSON (sorted keys, no insignificant
// whitespace) for object envelopes, and canonical tar+gzip for the archive
// payloads of pkg-build/runtime/repo-snapshot objects. Any drift between
// two encodings of equivalent input silently invalidates every oid and
// every cache keyed by one, so both live here, deliberately small and
// fully covered by round-trip tests.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// JSON returns the canonical encoding of v: v is first round-tripped
// through encoding/json to normalize it into a generic tree (so struct
// field order, map ordering, and insignificant whitespace in any source
// JSON are all erased), then re-encoded with object keys sorted
// lexicographically and no separators beyond a single comma/colon.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: normalize: %w", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kenc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kenc)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
	return nil
}

// OID returns the lowercase hex SHA-256 digest of b.
func OID(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// JSONOID canonically encodes v and returns its oid alongside the encoded
// bytes, so callers never compute the oid from a different encoding than
// the one they persist.
func JSONOID(v any) (oid string, encoded []byte, err error) {
	encoded, err = JSON(v)
	if err != nil {
		return "", nil, err
	}
	return OID(encoded), encoded, nil
}
