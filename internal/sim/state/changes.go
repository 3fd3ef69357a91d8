package state

import "time"

// ChangeKind identifies what a change event reports.
type ChangeKind int

const (
	PopulationsAdded ChangeKind = iota + 1
	PopulationsRemoved
	DateChanged
	ObservationFailed
	AnimalsAdded
	AnimalsRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case PopulationsAdded:
		return "populations_added"
	case PopulationsRemoved:
		return "populations_removed"
	case DateChanged:
		return "date_changed"
	case ObservationFailed:
		return "observation_failed"
	case AnimalsAdded:
		return "animals_added"
	case AnimalsRemoved:
		return "animals_removed"
	default:
		return "unknown"
	}
}

// EnvironmentEvent reports a change of the environment. Step and Time are set
// for DateChanged and ObservationFailed, Err only for ObservationFailed.
type EnvironmentEvent struct {
	Kind        ChangeKind
	Environment *Environment
	Populations []*Population
	Step        int
	Time        time.Time
	Err         error
}

// PopulationEvent reports animals joining or leaving a population.
type PopulationEvent struct {
	Kind       ChangeKind
	Population *Population
	Animals    []*Animal
}

// EnvironmentListener receives environment events on the event queue, with the
// environment lock held.
type EnvironmentListener func(EnvironmentEvent)

// PopulationListener receives population events on the event queue, with the
// environment lock held.
type PopulationListener func(PopulationEvent)

type listenerEntry[F any] struct {
	id int
	fn F
}

// listenerList keeps listeners in registration order. The zero value is ready
// to use; callers hold the environment lock.
type listenerList[F any] struct {
	nextID  int
	entries []listenerEntry[F]
}

func (l *listenerList[F]) add(fn F) int {
	l.nextID++
	l.entries = append(l.entries, listenerEntry[F]{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *listenerList[F]) remove(id int) {
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

// snapshot is taken when an event is enqueued, so listeners added later do
// not see it.
func (l *listenerList[F]) snapshot() []F {
	if len(l.entries) == 0 {
		return nil
	}
	out := make([]F, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

func (l *listenerList[F]) clear() {
	l.entries = nil
}
