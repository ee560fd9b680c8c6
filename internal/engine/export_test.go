package engine

// Records returns the records in table order.
func (t *Table[T, PT]) Records() []T {
	out := make([]T, len(t.rows))
	for i := range t.rows {
		out[i] = t.rows[i].rec
	}
	return out
}

var ReadLine = readLine
