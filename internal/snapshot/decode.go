package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrNotObject is returned when a snapshot is valid JSON but not an object.
var ErrNotObject = errors.New("snapshot is not a JSON object")

// Decode parses a JSON object into a state diff. Integral numbers that fit
// in an int decode as int, other numbers as float64.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode snapshot: trailing data after object")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return normalize(obj).(map[string]any), nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil && i >= math.MinInt && i <= math.MaxInt {
			return int(i)
		}
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case []any:
		for i, elem := range val {
			val[i] = normalize(elem)
		}
		return val
	case map[string]any:
		for k, elem := range val {
			val[k] = normalize(elem)
		}
		return val
	default:
		return v
	}
}

// domainSnapshot separates snapshot hashes from any other sha256 use.
const domainSnapshot = "lemonstate/snapshot/v1\x00"

// Hash returns the hex sha256 of canonical snapshot bytes.
func Hash(canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(domainSnapshot))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
