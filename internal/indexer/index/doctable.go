package index

// DocTable interns archive names as dense DocIDs. The original name string
// lives only here; postings refer to documents by id.
type DocTable struct {
	next  DocID
	names []string
}

func NewDocTable(capacity int) *DocTable {
	return &DocTable{names: make([]string, 0, capacity)}
}

// Assign hands out the next id for name. Names are not deduplicated: two
// records with the same name receive two ids.
func (t *DocTable) Assign(name string) DocID {
	id := t.next
	t.names = append(t.names, name)
	t.next++
	return id
}

func (t *DocTable) Name(id DocID) (string, bool) {
	if int(id) >= len(t.names) {
		return "", false
	}
	return t.names[id], true
}

func (t *DocTable) Len() int {
	return len(t.names)
}

// Names returns the id-ordered name slice. Callers must not modify it.
func (t *DocTable) Names() []string {
	return t.names
}

// NextID is the id the next Assign call would return.
func (t *DocTable) NextID() DocID {
	return t.next
}

// DocTableFromNames rebuilds a table whose ids are the positions in names.
func DocTableFromNames(names []string) *DocTable {
	return &DocTable{next: DocID(len(names)), names: names}
}
