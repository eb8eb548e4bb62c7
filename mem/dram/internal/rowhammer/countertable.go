package rowhammer

// emptyRow marks a counter-table entry that tracks no row.
const emptyRow = uint64(1) << 62

type counterEntry struct {
	row   uint64
	count uint64
}

// counterTable is a fixed-size table of row counters kept sorted by count,
// highest first. A row that is not tracked takes over the last entry and
// inherits its count.
type counterTable struct {
	entries []counterEntry
}

func newCounterTable(size uint64) *counterTable {
	t := &counterTable{entries: make([]counterEntry, size)}
	t.reset()

	return t
}

// increment adds one to the counter of row and returns the new count.
func (t *counterTable) increment(row uint64) uint64 {
	dest := -1
	for i := range t.entries {
		if t.entries[i].row == row {
			dest = i
			break
		}
	}

	if dest < 0 {
		dest = len(t.entries) - 1
		t.entries[dest].row = row
	}

	t.entries[dest].count++

	for dest > 0 && t.entries[dest].count > t.entries[dest-1].count {
		t.entries[dest], t.entries[dest-1] = t.entries[dest-1], t.entries[dest]
		dest--
	}

	return t.entries[dest].count
}

func (t *counterTable) reset() {
	for i := range t.entries {
		t.entries[i] = counterEntry{row: emptyRow}
	}
}

func (t *counterTable) sorted() bool {
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].count > t.entries[i-1].count {
			return false
		}
	}

	return true
}
