package gateway

// BufferView is a cursor over a caller-owned byte region. Records are
// appended whole or not at all. A BufferView never grows or
// reallocates the region it wraps.
type BufferView struct {
	buf    []byte
	offset int
}

// NewBufferView wraps buf. The view writes into buf starting at
// offset zero.
func NewBufferView(buf []byte) *BufferView {
	return &BufferView{buf: buf}
}

// Fits reports whether a record of n bytes can still be written
func (view *BufferView) Fits(n int) bool {
	return n <= view.Remaining()
}

// Write appends p if all of p fits in the remaining space. It
// returns false and leaves the region untouched otherwise.
func (view *BufferView) Write(p []byte) bool {
	if !view.Fits(len(p)) {
		return false
	}

	view.offset += copy(view.buf[view.offset:], p)

	return true
}

// Len returns the number of bytes written so far
func (view *BufferView) Len() int {
	return view.offset
}

// Remaining returns the number of bytes that can still be written
func (view *BufferView) Remaining() int {
	return len(view.buf) - view.offset
}

// Bytes returns the written prefix of the region
func (view *BufferView) Bytes() []byte {
	return view.buf[:view.offset]
}

// Reset rewinds the view to the start of the region
func (view *BufferView) Reset() {
	view.offset = 0
}
