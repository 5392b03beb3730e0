package flatcache

// Codec converts between a typed resource and its stored record.
type Codec[T any] struct {
	Encode func(T) Record
	// Decode returns false to reject a record; rejected records are skipped
	// like any other malformed row.
	Decode func(Record) (T, bool)
}

// Table is a typed view over one Entry in a Store.
type Table[T any] struct {
	Store *Store
	Entry Entry
	Codec Codec[T]
}

// NewTable binds an entry and codec to a store.
func NewTable[T any](s *Store, e Entry, c Codec[T]) *Table[T] {
	return &Table[T]{Store: s, Entry: e, Codec: c}
}

// IsFresh reports whether the table can be served from disk without a refresh.
func (t *Table[T]) IsFresh() bool {
	return t.Store.IsFresh(t.Entry)
}

// Read returns the decoded items, skipping records the codec rejects.
func (t *Table[T]) Read() ([]T, error) {
	records, err := t.Store.Read(t.Entry)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(records))
	for _, r := range records {
		v, ok := t.Codec.Decode(r)
		if !ok {
			continue
		}
		items = append(items, v)
	}
	return items, nil
}

// Write replaces the stored collection with items.
func (t *Table[T]) Write(items []T) error {
	records := make([]Record, len(items))
	for i, v := range items {
		records[i] = t.Codec.Encode(v)
	}
	return t.Store.Write(t.Entry, records)
}

// Invalidate deletes the stored collection.
func (t *Table[T]) Invalidate() error {
	return t.Store.Invalidate(t.Entry)
}
