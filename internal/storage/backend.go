package storage

import (
	"github.com/xtxerr/statehist/internal/state"
)

// Backend stores the closed intervals of one state system.
//
// Inserts come from a single writer; queries may run concurrently with
// inserts and with each other. Every method returns ErrDisposed once
// Dispose has been called.
type Backend interface {
	// ID returns the state system id.
	ID() string

	// StartTime returns the first timestamp the history covers.
	StartTime() int64

	// EndTime returns the last timestamp the history covers.
	EndTime() int64

	// InsertPastState stores [start, end] = v for quark.
	InsertPastState(start, end int64, quark int, v state.Value) error

	// FinishBuilding marks the history complete up to end.
	FinishBuilding(end int64) error

	// QuerySingle returns the stored interval of quark containing t.
	QuerySingle(t int64, quark int) (state.Interval, bool, error)

	// QueryFull calls visit for every stored interval containing t.
	QueryFull(t int64, visit func(state.Interval)) error

	// QueryPartial returns the stored intervals containing t for quarks.
	QueryPartial(t int64, quarks []int) (map[int]state.Interval, error)

	// Dispose releases all resources. Unfinished on-disk histories are
	// deleted.
	Dispose() error
}

// AttributeStore is implemented by backends that persist the serialized
// attribute tree next to the history.
type AttributeStore interface {
	StoreAttributes(data []byte) error
	LoadAttributes() ([]byte, error)
}

// Finisher is implemented by backends that know whether their history is
// complete, for instance after reopening a file.
type Finisher interface {
	IsFinished() bool
}
