package multipart

// Accumulator regroups chunks of arbitrary size into parts of at least threshold
// bytes. Only the part returned by Flush may be smaller.
type Accumulator struct {
	threshold int64
	buf       []byte
	size      int64
	next      int32
	seen      int64
}

// NewAccumulator ...
func NewAccumulator(threshold int64) *Accumulator {
	return &Accumulator{
		threshold: threshold,
		next:      1,
	}
}

// Add appends chunk to the current buffer. When the buffer reaches the
// threshold it is returned as the next part and a fresh buffer is started.
func (a *Accumulator) Add(chunk []byte) (Part, bool) {
	if len(chunk) == 0 {
		return Part{}, false
	}
	if a.buf == nil {
		a.buf = make([]byte, 0, a.threshold)
	}

	a.buf = append(a.buf, chunk...)
	a.size += int64(len(chunk))
	a.seen += int64(len(chunk))

	if a.size < a.threshold {
		return Part{}, false
	}
	return a.emit(), true
}

// Flush returns the remaining buffered bytes as the final part, if any.
func (a *Accumulator) Flush() (Part, bool) {
	if a.size == 0 {
		return Part{}, false
	}
	return a.emit(), true
}

// BytesSeen returns the total number of bytes passed to Add.
func (a *Accumulator) BytesSeen() int64 {
	return a.seen
}

// PartsEmitted ...
func (a *Accumulator) PartsEmitted() int {
	return int(a.next - 1)
}

func (a *Accumulator) emit() Part {
	// The emitted slice is handed off; the next Add allocates a new one.
	part := Part{Number: a.next, Data: a.buf}
	a.next++
	a.buf = nil
	a.size = 0
	return part
}
