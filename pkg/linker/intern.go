package linker

// internEntry is one string stored in an Interner: the string itself, its
// cached length, and the byte offset it occupies in the serialized table.
type internEntry struct {
	str    string
	length int
	offset uint32
}

// Interner is an insertion-ordered string table: each distinct string is
// assigned a stable index and a byte offset into the serialized form,
// with offset 0 reserved for the leading
// NUL every ELF string table begins with. Both the output section-header
// name table and the output symbol-name table are one of these.
type Interner struct {
	entries []internEntry
}

// NewInterner returns an empty string table.
func NewInterner() *Interner {
	return &Interner{}
}

// Add interns str, returning its index and byte offset. A repeated call
// with an equal string returns the same index and offset without growing
// the table.
func (in *Interner) Add(str string) (int, uint32) {
	for i, e := range in.entries {
		if e.str == str {
			return i, e.offset
		}
	}

	offset := uint32(1)
	if n := len(in.entries); n > 0 {
		last := in.entries[n-1]
		offset = last.offset + uint32(last.length) + 1
	}

	in.entries = append(in.entries, internEntry{str: str, length: len(str), offset: offset})
	return len(in.entries) - 1, offset
}

// Lookup returns the string and byte offset stored at index.
func (in *Interner) Lookup(index int) (string, uint32) {
	e := in.entries[index]
	return e.str, e.offset
}

// Len returns the number of distinct interned strings.
func (in *Interner) Len() int {
	return len(in.entries)
}

// SerializedSize returns the byte length Serialize would produce, without
// building the buffer, used to fill in an Shdr.Size before the bytes are
// actually written.
func (in *Interner) SerializedSize() int {
	size := 1
	for _, e := range in.entries {
		size += e.length + 1
	}
	return size
}

// Serialize renders the table in its on-disk form: a leading NUL followed
// by every interned string and its own NUL terminator, in insertion order.
func (in *Interner) Serialize() []byte {
	buf := make([]byte, 0, in.SerializedSize())
	buf = append(buf, 0)
	for _, e := range in.entries {
		buf = append(buf, e.str...)
		buf = append(buf, 0)
	}
	return buf
}
