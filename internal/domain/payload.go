package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// MaxCategoricalBytes bounds categorical payload size; answers are labels,
// not documents.
const MaxCategoricalBytes = 256

// ResultPayload is the parsed, tagged form of a provider submission.
// Parsing happens once at submission time; everything downstream works on
// the parsed value, never the raw string.
type ResultPayload struct {
	Kind         TaskKind
	Raw          string
	NumericValue int64  // micro-units, set when Kind == KindNumeric
	Digest       string // blake3 hex of Raw, the categorical grouping key
}

// ParsePayload validates and parses a raw submission payload for the
// given task kind. Failures are validation-class errors.
func ParsePayload(kind TaskKind, raw string) (ResultPayload, error) {
	switch kind {
	case KindNumeric:
		v, err := ParseAmount(raw)
		if err != nil {
			return ResultPayload{}, fmt.Errorf("%w: numeric payload %q", ErrInvalidPayload, raw)
		}
		return ResultPayload{Kind: kind, Raw: raw, NumericValue: v, Digest: DigestString(raw)}, nil

	case KindCategorical:
		if raw == "" {
			return ResultPayload{}, fmt.Errorf("%w: empty categorical payload", ErrInvalidPayload)
		}
		if len(raw) > MaxCategoricalBytes {
			return ResultPayload{}, fmt.Errorf("%w: categorical payload exceeds %d bytes", ErrInvalidPayload, MaxCategoricalBytes)
		}
		return ResultPayload{Kind: kind, Raw: raw, Digest: DigestString(raw)}, nil

	default:
		return ResultPayload{}, fmt.Errorf("%w: unknown task kind %q", ErrInvalidPayload, kind)
	}
}

// DigestString returns the blake3 digest of s as lowercase hex.
func DigestString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
