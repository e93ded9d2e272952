// Package learner turns apportioned reinforcement seats and formation
// quality into persistent log-space weights.
//
// Each batch smooths its observations with an EMA, ranks the smoothed
// values within the record's (type, scope) cohort, maps the rank through
// the inverse normal CDF, and adds the result to log_weight scaled by an
// adaptive learning rate. Normalization is always cohort-relative, so no
// absolute signal scale has to be tuned.
package learner

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/metrics"
)

// ErrUnknownTarget is returned when a batch names a record absent from the
// population snapshot.
var ErrUnknownTarget = errors.New("learner: unknown target")

// Config holds the learner's tunables.
type Config struct {
	Alpha         float64
	MinCohort     int
	FirstRate     float64
	MinRate       float64
	MaxRate       float64
	DefaultTau    time.Duration
	TauWindow     int
	TauMinSamples int
}

// DefaultConfig returns the built-in learner settings.
func DefaultConfig() Config {
	return Config{
		Alpha:         0.1,
		MinCohort:     3,
		FirstRate:     0.15,
		MinRate:       0.01,
		MaxRate:       0.95,
		DefaultTau:    time.Hour,
		TauWindow:     32,
		TauMinSamples: 8,
	}
}

// Target is one record's observations within a batch. Quality is nil
// unless the record was formed (or re-formed) in this batch.
type Target struct {
	ID      string
	Seats   float64
	Quality *float64
}

// Update is the learner's result for one target.
type Update struct {
	ID             string              `json:"target_id"`
	Kind           graph.Kind          `json:"kind"`
	Cohort         graph.CohortKey     `json:"cohort"`
	CohortSize     int                 `json:"cohort_size"`
	EMASignal      float64             `json:"ema_signal"`
	EMAQuality     float64             `json:"ema_quality"`
	ZSignal        float64             `json:"z_signal"`
	ZQuality       float64             `json:"z_quality"`
	Formed         bool                `json:"formed"`
	DeltaLogWeight float64             `json:"delta_log_weight"`
	LogWeight      float64             `json:"log_weight"`
	LearningRate   float64             `json:"learning_rate"`
	State          graph.LearningState `json:"-"`
}

// Stats is the learner's heartbeat.
type Stats struct {
	Updates      int64   `json:"updates"`
	Batches      int64   `json:"batches"`
	MeanAbsDelta float64 `json:"mean_abs_delta"`
}

// Learner computes weight updates. Compute is pure with respect to the
// graph: it reads the snapshot it is given and returns the writes for the
// caller to apply atomically.
type Learner struct {
	cfg       Config
	tau       *tauEstimator
	baselines *Baselines
	logger    *zap.Logger

	statsMu  sync.Mutex
	stats    Stats
	absDelta float64
}

// New builds a learner. Zero fields of cfg fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Learner {
	def := DefaultConfig()
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.MinCohort <= 0 {
		cfg.MinCohort = def.MinCohort
	}
	if cfg.FirstRate <= 0 {
		cfg.FirstRate = def.FirstRate
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = def.MinRate
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = def.MaxRate
	}
	if cfg.DefaultTau <= 0 {
		cfg.DefaultTau = def.DefaultTau
	}
	if cfg.TauWindow <= 0 {
		cfg.TauWindow = def.TauWindow
	}
	if cfg.TauMinSamples <= 0 {
		cfg.TauMinSamples = def.TauMinSamples
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{
		cfg:       cfg,
		tau:       newTauEstimator(cfg.TauWindow, cfg.TauMinSamples, cfg.DefaultTau),
		baselines: NewBaselines(cfg.MinCohort),
		logger:    logger.Named("learner"),
	}
}

// Config returns the effective configuration.
func (l *Learner) Config() Config { return l.cfg }

// Baselines returns the read-time standardization baselines.
func (l *Learner) Baselines() *Baselines { return l.baselines }

// Standardize implements quality.Standardizer.
func (l *Learner) Standardize(kind graph.Kind, cohort graph.CohortKey, logWeight float64) float64 {
	return l.baselines.Standardize(kind, cohort, logWeight)
}

// Tau returns the current inter-update interval estimate for a cohort.
func (l *Learner) Tau(kind graph.Kind, cohort graph.CohortKey) time.Duration {
	return l.tau.estimate(cohortID{kind, cohort})
}

// EMA applies one exponential moving average step.
func EMA(alpha, value, old float64) float64 {
	return alpha*value + (1-alpha)*old
}

type pending struct {
	target Target
	rec    graph.LearningRecord
	state  graph.LearningState
}

// Compute runs one batch over a consistent population snapshot of a single
// kind. Targets repeated in the batch are merged: seats add up and the
// last quality wins.
func (l *Learner) Compute(kind graph.Kind, population []graph.LearningRecord, batch []Target, now time.Time) ([]Update, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	byID := make(map[string]int, len(population))
	for i, r := range population {
		byID[r.ID] = i
	}

	// Merge duplicates, keeping first-seen order.
	var order []string
	merged := make(map[string]*Target, len(batch))
	for _, t := range batch {
		if _, ok := byID[t.ID]; !ok {
			return nil, fmt.Errorf("%w: %s %q", ErrUnknownTarget, kind, t.ID)
		}
		m, ok := merged[t.ID]
		if !ok {
			cp := t
			merged[t.ID] = &cp
			order = append(order, t.ID)
			continue
		}
		m.Seats += t.Seats
		if t.Quality != nil {
			m.Quality = t.Quality
		}
	}

	// Phase 1: new EMAs for every target.
	work := make([]*pending, 0, len(order))
	newState := make(map[string]graph.LearningState, len(order))
	for _, id := range order {
		rec := population[byID[id]]
		t := *merged[id]
		st := rec.State
		if st.SignalSeen {
			st.EMASignal = EMA(l.cfg.Alpha, t.Seats, st.EMASignal)
		} else {
			st.EMASignal = t.Seats
			st.SignalSeen = true
		}
		if t.Quality != nil {
			if st.QualitySeen {
				st.EMAQuality = EMA(l.cfg.Alpha, *t.Quality, st.EMAQuality)
			} else {
				st.EMAQuality = *t.Quality
				st.QualitySeen = true
			}
		}
		newState[id] = st
		work = append(work, &pending{target: t, rec: rec, state: st})
	}

	// Phase 2: cohort views over the snapshot with this batch's EMAs.
	cohorts := make(map[graph.CohortKey][]graph.LearningRecord)
	for _, r := range population {
		if st, ok := newState[r.ID]; ok {
			r.State = st
		}
		cohorts[r.Cohort] = append(cohorts[r.Cohort], r)
	}
	zSignal := make(map[string]float64)
	zQuality := make(map[string]float64)
	for _, members := range cohorts {
		if cohortTouched(members, newState) {
			l.cohortZ(members, newState, zSignal, zQuality)
		}
	}

	// Phase 3: learning rate and log-weight step.
	updates := make([]Update, 0, len(work))
	var batchAbs float64
	for _, p := range work {
		id := p.rec.ID
		cid := cohortID{kind, p.rec.Cohort}
		eta := l.cfg.FirstRate
		if !p.rec.State.LastUpdate.IsZero() {
			dt := now.Sub(p.rec.State.LastUpdate)
			// Late events still learn but say nothing about cadence.
			if dt > 0 {
				l.tau.observe(cid, dt)
			}
			eta = Rate(dt, l.tau.estimate(cid), l.cfg.MinRate, l.cfg.MaxRate)
		}

		formed := p.target.Quality != nil
		zs := zSignal[id]
		zq := 0.0
		if formed {
			zq = zQuality[id]
		}
		delta := eta * (zs + zq)

		st := p.state
		st.LogWeight += delta
		if (p.target.Seats != 0 || formed) && now.After(st.LastUpdate) {
			st.LastUpdate = now
		}

		u := Update{
			ID:             id,
			Kind:           kind,
			Cohort:         p.rec.Cohort,
			CohortSize:     len(cohorts[p.rec.Cohort]),
			EMASignal:      st.EMASignal,
			EMAQuality:     st.EMAQuality,
			ZSignal:        zs,
			ZQuality:       zq,
			Formed:         formed,
			DeltaLogWeight: delta,
			LogWeight:      st.LogWeight,
			LearningRate:   eta,
			State:          st,
		}
		updates = append(updates, u)
		batchAbs += math.Abs(delta)

		metrics.LearnerDelta.Observe(math.Abs(delta))
		l.logger.Debug("weight update",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.Float64("seats", p.target.Seats),
			zap.Float64("z_signal", zs),
			zap.Float64("z_quality", zq),
			zap.Float64("eta", eta),
			zap.Float64("delta_log_weight", delta),
		)
	}
	metrics.LearnerUpdates.WithLabelValues(string(kind)).Add(float64(len(updates)))
	l.record(len(updates), batchAbs)
	return updates, nil
}

func cohortTouched(members []graph.LearningRecord, touched map[string]graph.LearningState) bool {
	for _, m := range members {
		if _, ok := touched[m.ID]; ok {
			return true
		}
	}
	return false
}

// cohortZ fills z values for the touched members of one cohort. Signal
// ranks span the whole cohort; quality ranks span only members that have a
// quality EMA. Below the minimum cohort size the raw EMA stands in.
func (l *Learner) cohortZ(members []graph.LearningRecord, touched map[string]graph.LearningState, zSignal, zQuality map[string]float64) {
	if len(members) < l.cfg.MinCohort {
		for _, m := range members {
			if _, ok := touched[m.ID]; ok {
				zSignal[m.ID] = m.State.EMASignal
			}
		}
	} else {
		vals := make([]float64, len(members))
		for i, m := range members {
			vals[i] = m.State.EMASignal
		}
		z := VanDerWaerden(vals)
		for i, m := range members {
			if _, ok := touched[m.ID]; ok {
				zSignal[m.ID] = z[i]
			}
		}
	}

	var qualified []graph.LearningRecord
	for _, m := range members {
		if m.State.QualitySeen {
			qualified = append(qualified, m)
		}
	}
	if len(qualified) < l.cfg.MinCohort {
		for _, m := range qualified {
			if _, ok := touched[m.ID]; ok {
				zQuality[m.ID] = m.State.EMAQuality
			}
		}
		return
	}
	vals := make([]float64, len(qualified))
	for i, m := range qualified {
		vals[i] = m.State.EMAQuality
	}
	z := VanDerWaerden(vals)
	for i, m := range qualified {
		if _, ok := touched[m.ID]; ok {
			zQuality[m.ID] = z[i]
		}
	}
}

func (l *Learner) record(n int, absDelta float64) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.stats.Batches++
	l.stats.Updates += int64(n)
	l.absDelta += absDelta
	if l.stats.Updates > 0 {
		l.stats.MeanAbsDelta = l.absDelta / float64(l.stats.Updates)
	}
}

// Stats returns a copy of the heartbeat counters.
func (l *Learner) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// RefreshBaselines recomputes the read-time baselines for one kind.
func (l *Learner) RefreshBaselines(kind graph.Kind, records []graph.LearningRecord) {
	n := l.baselines.Refresh(kind, records)
	l.logger.Debug("baselines refreshed", zap.String("kind", string(kind)), zap.Int("cohorts", n))
}

// Writes converts updates into graph learning writes.
func Writes(updates []Update) []graph.LearningWrite {
	out := make([]graph.LearningWrite, len(updates))
	for i, u := range updates {
		out[i] = graph.LearningWrite{ID: u.ID, State: u.State}
	}
	return out
}
