package scheduler

type source int

const (
	sourceGate source = iota
	sourcePoll
	sourceRefresh
	numSources
)

// joined is the latest value of every source at the time one of them fired.
type joined struct {
	Open      bool
	Polls     uint64
	Refreshes uint64
}

// joinLatest combines the gate, the poll tick and the refresh tick. It emits
// whenever any source fires, once every source has fired at least once.
type joinLatest struct {
	seen [numSources]uint64
	open bool
}

func (j *joinLatest) gate(open bool) (joined, bool) {
	j.open = open
	return j.fire(sourceGate)
}

func (j *joinLatest) poll() (joined, bool) {
	return j.fire(sourcePoll)
}

func (j *joinLatest) refresh() (joined, bool) {
	return j.fire(sourceRefresh)
}

func (j *joinLatest) fire(src source) (joined, bool) {
	j.seen[src]++
	for _, n := range j.seen {
		if n == 0 {
			return joined{}, false
		}
	}
	return joined{
		Open:      j.open,
		Polls:     j.seen[sourcePoll],
		Refreshes: j.seen[sourceRefresh],
	}, true
}
