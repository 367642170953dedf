// Package offsets holds the offset and progress data model shared by the
// sampler, the lag rules engine, and the dispatcher: the Value tagged union,
// per-partition progress samples, and the sliding window ring buffer.
package offsets

import "fmt"

// rawMissing is the broker sentinel for "no committed offset exists yet".
// It must never leak past Of/ToRaw into the rest of the module — every
// downstream comparison goes through Value, not this constant.
const rawMissing = -1001

// Value is a tagged union over "no committed offset yet" (Missing) and a
// concrete non-negative offset (Valid). Kafka clients surface the absence of
// a commit in one of two ways depending on the transport: franz-go's kadm
// simply omits the partition from its lookup result, while librdkafka-style
// clients return the literal sentinel -1001. Of handles both by treating any
// negative raw value as Missing, and FromLookup handles the "absent" case
// directly for callers working against kadm's map-shaped responses.
type Value struct {
	n       int64
	isValid bool
}

// Missing returns the zero-information offset value.
func Missing() Value {
	return Value{}
}

// Valid returns a concrete offset value. Callers must ensure n >= 0;
// negative values are folded into Missing to keep the union total.
func Valid(n int64) Value {
	if n < 0 {
		return Missing()
	}
	return Value{n: n, isValid: true}
}

// Of converts a raw broker-supplied offset into a Value, translating the
// -1001 sentinel (and any other negative value) to Missing.
func Of(raw int64) Value {
	if raw == rawMissing || raw < 0 {
		return Missing()
	}
	return Value{n: raw, isValid: true}
}

// FromLookup converts a (value, found) pair as returned by kadm's Lookup
// helpers into a Value.
func FromLookup(raw int64, found bool) Value {
	if !found {
		return Missing()
	}
	return Of(raw)
}

// IsMissing reports whether the value carries no committed offset.
func (v Value) IsMissing() bool {
	return !v.isValid
}

// IsValid reports whether the value carries a concrete offset.
func (v Value) IsValid() bool {
	return v.isValid
}

// Must returns the concrete offset, panicking if the value is Missing.
// Callers should guard with IsValid first; Must exists for code paths that
// have already established validity (e.g. after a type-switch-style check).
func (v Value) Must() int64 {
	if !v.isValid {
		panic("offsets: Must called on a Missing value")
	}
	return v.n
}

// ToRaw is the inverse of Of for valid values: ToRaw(Of(n)) == n for n >= 0.
// It returns the -1001 sentinel for Missing, for callers that need to hand
// the value back to a librdkafka-shaped API.
func (v Value) ToRaw() int64 {
	if !v.isValid {
		return rawMissing
	}
	return v.n
}

func (v Value) String() string {
	if !v.isValid {
		return "Missing"
	}
	return fmt.Sprintf("Valid(%d)", v.n)
}
