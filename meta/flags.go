package meta

import "time"

// TTL represents the `T<seconds>` flag: either the item never expires, or
// it expires at a specific instant. Zero seconds on the wire means
// "indefinite".
type TTL struct {
	at         time.Time
	indefinite bool
}

// Indefinite returns the TTL encoded as T0: the item never expires. The
// zero value TTL{} is not indefinite; it is an expiry at the zero time.
func Indefinite() TTL { return TTL{indefinite: true} }

// ExpiresAt returns a TTL that expires at the given instant.
func ExpiresAt(t time.Time) TTL { return TTL{at: t} }

// IsIndefinite reports whether the TTL never expires.
func (t TTL) IsIndefinite() bool { return t.indefinite }

// At returns the expiry instant. Only meaningful when !IsIndefinite().
func (t TTL) At() time.Time { return t.at }

// seconds computes the T<seconds> token value relative to now.
//
// An ExpiresAt(now) (or anything already in the past) is floored to 1
// second rather than encoded as T0, because T0 is reserved for "never
// expires" on the wire: collapsing an already-expired TTL onto that
// sentinel would make the item immortal instead of instantly stale.
func (t TTL) seconds(now time.Time) int64 {
	if t.indefinite {
		return 0
	}
	d := t.at.Sub(now)
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++ // ceil
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Flags carries the optional per-request fields. Only the fields relevant
// to the request's Command are honored by the encoder; see RequestEncoder.
type Flags struct {
	ReturnValue bool
	TTL         TTL
	HasTTL      bool
	ReturnTTL   bool

	StorageMode    StorageMode
	HasStorageMode bool
	ArithmeticMode ArithmeticMode
	Delta          uint64

	// Supplemental fields beyond the core typed Connection methods: used
	// for the debug/quiet escape hatches and CAS/key echo, never
	// required for the basic round-trip behaviors.
	ReturnCAS bool
	ReturnKey bool
	Quiet     bool
}
