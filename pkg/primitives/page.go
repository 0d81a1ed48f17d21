package primitives

// FileID identifies one of the table files a PageStore manages.
type FileID int64

// PageNumber is the index of a page within a file.
type PageNumber int64

// HashCode is a cheap, order-independent fingerprint of a PageID, used as a
// map key where the PageID itself is not comparable.
type HashCode uint64

// PageID is an opaque handle to a page. It serializes to a fixed integer
// count N followed by N 32-bit integers, per the on-disk log format; the
// PageStore that owns the concrete type knows how to turn that integer
// vector back into a PageID (see TypeRegistry).
type PageID interface {
	// Serialize returns the integer vector identifying this page, each
	// value truncated to 32 bits on the wire.
	Serialize() []int32
	Equals(other PageID) bool
	HashCode() HashCode
	String() string
	// TypeTag names the concrete PageID type. It is written to the log
	// so Recovery can look the type back up in the PageStore's registry;
	// see the type-tag registry design note.
	TypeTag() string
}

// Page is an opaque byte array of a fixed page size known to the
// PageStore, plus enough self-description to round-trip through the log.
type Page interface {
	ID() PageID
	Bytes() []byte
	// TypeTag names the concrete Page type, written to the log alongside
	// its PageID's tag.
	TypeTag() string
}
