package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalMarshal produces true RFC 8785 JSON Canonicalization Scheme
// output for v: encode with encoding/json, then run the result through
// gowebpki/jcs to get strict JCS member ordering and number formatting.
// The teacher's own CanonicalMarshal only approximated JCS with a plain
// json.Encoder (sorted map keys, no HTML escaping) and said as much in its
// doc comment; this repo has the real library available, so it uses it.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return out, nil
}
