package location

// WorkChunk attributes a share of power blame to a single (uid, package)
// pair.
type WorkChunk struct {
	UID     int
	Package string
}

// WorkSource is the set of (uid, package) pairs blamed for the power cost
// of a request.
type WorkSource []WorkChunk

// Empty reports whether the work source blames nobody.
func (w WorkSource) Empty() bool {
	return len(w) == 0
}

// Clone returns an independent copy.
func (w WorkSource) Clone() WorkSource {
	if w == nil {
		return nil
	}
	c := make(WorkSource, len(w))
	copy(c, w)
	return c
}

// Add returns the union of the two work sources, deduplicated. The receiver
// is not modified.
func (w WorkSource) Add(other WorkSource) WorkSource {
	out := w.Clone()
	for _, chunk := range other {
		if !out.contains(chunk) {
			out = append(out, chunk)
		}
	}
	return out
}

func (w WorkSource) contains(chunk WorkChunk) bool {
	for _, c := range w {
		if c == chunk {
			return true
		}
	}
	return false
}

// Equal reports whether both work sources blame exactly the same chunks,
// ignoring order.
func (w WorkSource) Equal(other WorkSource) bool {
	if len(w) != len(other) {
		return false
	}
	for _, chunk := range other {
		if !w.contains(chunk) {
			return false
		}
	}
	return true
}
