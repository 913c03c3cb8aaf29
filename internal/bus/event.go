package bus

// Op is the kind of row mutation that produced a change event.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Event records one committed row mutation in the store. Events are
// ephemeral: they live in the in-memory queue, are consumed exactly once
// and are never persisted. The zero Event names no table, matches no
// listener predicate, and is pushed to force a redraw through the normal
// drain path.
type Event struct {
	Op    Op
	Table string
	RowID int64
}
