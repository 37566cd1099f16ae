package value

// HeapObject is implemented by every concrete heap-allocated type. The GC
// header ("one pointer field or word") is realized here as the embedded
// Header, which carries the mark bit the collector
// flips during the mark phase and the sub-tag used to recover the concrete
// type during sweep without a further type switch on every object.
type HeapObject interface {
	// GCHeader returns the object's mutable GC header, for the collector
	// package to flip the mark bit during the mark phase.
	GCHeader() *Header
	// SubTag identifies the concrete heap type.
	SubTag() HeapTag
	// Trace calls visit for every Value directly reachable from this
	// object, so the collector's mark phase can recurse.
	Trace(visit func(Value))
}

// Header is the GC header every heap object embeds.
type Header struct {
	marked bool
	tag    HeapTag
}

// GCHeader returns h itself, satisfying HeapObject for any type that
// embeds Header.
func (h *Header) GCHeader() *Header { return h }

// SubTag returns the sub-tag recorded in the header. Concrete types that
// embed Header and do not override SubTag get this implementation.
func (h *Header) SubTag() HeapTag { return h.tag }

// Marked reports whether the mark bit is set.
func (h *Header) Marked() bool { return h.marked }

// SetMarked sets or clears the mark bit.
func (h *Header) SetMarked(m bool) { h.marked = m }

// NewHeader constructs a Header for the given sub-tag, unmarked.
func NewHeader(tag HeapTag) Header { return Header{tag: tag} }
