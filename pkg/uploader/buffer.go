package uploader

import "fmt"

// Sample is one measurement produced by a data source. Key groups samples
// of one kind for buffering and for server-side interpretation.
type Sample struct {
	Key   string
	Value any
}

// DataSource produces at most one sample per poll. ok=false means no data is
// available this cycle. Sources handle their own sampling errors.
type DataSource interface {
	Sample() (sample Sample, ok bool)
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func() (Sample, bool)

func (f DataSourceFunc) Sample() (Sample, bool) { return f() }

// registration pairs a source with its buffering mode.
type registration struct {
	source    DataSource
	buffering bool
}

// bufferedValue holds either the latest value or, for appending keys, every
// value since the buffer was last cleared, in poll order.
type bufferedValue struct {
	appending bool
	single    any
	sequence  []any
}

// Buffer maps sample keys to buffered values. It is owned by the upload
// goroutine and is not safe for concurrent use.
type Buffer struct {
	entries map[string]*bufferedValue
}

func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string]*bufferedValue)}
}

// Merge stores s. With appending=false the value replaces any previous value
// for s.Key; with appending=true it is appended. A key keeps the mode of its
// first write until the buffer is cleared; a sample in the other mode is
// rejected.
func (b *Buffer) Merge(s Sample, appending bool) error {
	entry, ok := b.entries[s.Key]
	if !ok {
		entry = &bufferedValue{appending: appending}
		b.entries[s.Key] = entry
	}
	if entry.appending != appending {
		return fmt.Errorf("key %q is buffered with appending=%t, got a sample with appending=%t",
			s.Key, entry.appending, appending)
	}
	if appending {
		entry.sequence = append(entry.sequence, s.Value)
	} else {
		entry.single = s.Value
	}
	return nil
}

// Payload returns the wire view of the buffer: key -> value, or key -> list
// of values for appending keys.
func (b *Buffer) Payload() map[string]any {
	out := make(map[string]any, len(b.entries))
	for key, entry := range b.entries {
		if entry.appending {
			out[key] = entry.sequence
		} else {
			out[key] = entry.single
		}
	}
	return out
}

// Len returns the number of buffered keys.
func (b *Buffer) Len() int { return len(b.entries) }

// Clear drops everything. The buffer is never partially cleared.
func (b *Buffer) Clear() {
	b.entries = make(map[string]*bufferedValue)
}
