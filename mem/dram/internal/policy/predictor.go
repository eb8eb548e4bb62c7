package policy

// Predictor identifies one of the row-buffer predictors that a tournament
// chooses from.
type Predictor int

// A list of all predictors.
const (
	PredOpen Predictor = iota
	PredClosed
	PredLocal
	PredGlobal
)

func (p Predictor) String() string {
	return [...]string{"open", "closed", "local", "global"}[p]
}

// Score counts the hits and misses of a predictor.
type Score struct {
	Hit  uint64
	Miss uint64
}

// PredictorStats are the cumulative predictor scores.
type PredictorStats struct {
	Local      Score `yaml:"local"`
	Global     Score `yaml:"global"`
	Open       Score `yaml:"open"`
	Closed     Score `yaml:"closed"`
	Tournament Score `yaml:"tournament"`
}

// Bimodal is a 2-bit saturating counter. Values below 2 predict that the row
// should stay open.
type Bimodal uint8

// PredictsOpen returns true if the counter votes for keeping the row open.
func (b Bimodal) PredictsOpen() bool {
	return b < 2
}

func (b Bimodal) onHit() Bimodal {
	if b == 3 {
		return 2
	}

	return 0
}

func (b Bimodal) onMiss() Bimodal {
	if b == 0 {
		return 1
	}

	return 3
}

// Predictors holds the per-thread global predictor and the tournament that
// selects between the open, closed, local and global predictors.
type Predictors struct {
	policy   Policy
	interval uint64
	patterns uint64

	global  [][]Bimodal
	history []uint64

	current [4]Score
	total   [4]Score
	chosen  Score

	selected Predictor
	best     Predictor

	accessesAtLastSwitch uint64
}

// NewPredictors creates predictors for numThreads threads. An interval of 0
// disables predictor training.
func NewPredictors(
	p Policy,
	interval, numPatterns uint64,
	numThreads int,
) *Predictors {
	if numPatterns == 0 {
		numPatterns = 1
	}

	ps := &Predictors{
		policy:   p,
		interval: interval,
		patterns: numPatterns,
		global:   make([][]Bimodal, numThreads),
		history:  make([]uint64, numThreads),
	}

	for i := range ps.global {
		ps.global[i] = make([]Bimodal, numPatterns)
	}

	return ps
}

// Training returns true if prediction outcomes are recorded.
func (ps *Predictors) Training() bool {
	return ps.interval > 0
}

// Selected returns the predictor the tournament currently follows.
func (ps *Predictors) Selected() Predictor {
	return ps.selected
}

func (ps *Predictors) globalEntry(thread int) *Bimodal {
	return &ps.global[thread][ps.history[thread]%ps.patterns]
}

// RecordRowHit records that keeping the row open would have paid off.
func (ps *Predictors) RecordRowHit(local *Bimodal, thread int) {
	g := ps.globalEntry(thread)

	ps.score(PredLocal, local.PredictsOpen())
	ps.score(PredGlobal, g.PredictsOpen())
	ps.score(PredOpen, true)
	ps.score(PredClosed, false)

	*local = local.onHit()
	*g = g.onHit()
}

// RecordRowMiss records that closing the row would have paid off.
func (ps *Predictors) RecordRowMiss(local *Bimodal, thread int) {
	g := ps.globalEntry(thread)

	ps.score(PredLocal, !local.PredictsOpen())
	ps.score(PredGlobal, !g.PredictsOpen())
	ps.score(PredOpen, false)
	ps.score(PredClosed, true)

	*local = local.onMiss()
	*g = g.onMiss()
}

func (ps *Predictors) score(p Predictor, hit bool) {
	if hit {
		ps.current[p].Hit++
	} else {
		ps.current[p].Miss++
	}
}

// PushHistory shifts the outcome of an access into the thread's history.
func (ps *Predictors) PushHistory(thread int, closed bool) {
	bit := uint64(0)
	if closed {
		bit = 1
	}

	ps.history[thread] = ps.history[thread]<<1 + bit
}

// KeepOpen decides whether a row stays open after a column access.
func (ps *Predictors) KeepOpen(local Bimodal, thread int) bool {
	if ps.policy.AlwaysOpen() {
		return true
	}

	t := ps.policy == Tournament

	switch {
	case t && ps.selected == PredOpen:
		return true
	case ps.policy == LocalPred || (t && ps.selected == PredLocal):
		return local.PredictsOpen()
	case ps.policy == GlobalPred || (t && ps.selected == PredGlobal):
		return ps.globalEntry(thread).PredictsOpen()
	}

	return false
}

// MaybeSwitch closes a tournament interval once enough accesses have been
// served since the last one. The predictor with the most hits is adopted only
// when it wins two intervals in a row.
func (ps *Predictors) MaybeSwitch(accesses uint64) {
	if ps.interval == 0 || accesses-ps.accessesAtLastSwitch < ps.interval {
		return
	}

	ps.accessesAtLastSwitch = accesses
	ps.chosen.Hit += ps.current[ps.selected].Hit
	ps.chosen.Miss += ps.current[ps.selected].Miss

	winner := PredOpen
	for _, p := range []Predictor{PredClosed, PredLocal, PredGlobal} {
		if ps.current[p].Hit > ps.current[winner].Hit {
			winner = p
		}
	}

	if ps.best == winner {
		ps.selected = winner
	}

	ps.best = winner

	for i := range ps.current {
		ps.total[i].Hit += ps.current[i].Hit
		ps.total[i].Miss += ps.current[i].Miss
		ps.current[i] = Score{}
	}
}

// Stats returns the cumulative scores of closed intervals.
func (ps *Predictors) Stats() PredictorStats {
	return PredictorStats{
		Local:      ps.total[PredLocal],
		Global:     ps.total[PredGlobal],
		Open:       ps.total[PredOpen],
		Closed:     ps.total[PredClosed],
		Tournament: ps.chosen,
	}
}
