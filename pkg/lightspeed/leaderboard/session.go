package leaderboard

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// MaxPlausibleVelocity caps vmax; faster counter readings are glitches.
const MaxPlausibleVelocity = 1e5

// Session accumulates the frames of one run. Only frames above the velocity
// threshold count.
type Session struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Start time.Time `json:"start"`

	vmax    float64
	hasVMax bool
	pctBest float64
	cBest   float64
	hasBest bool

	velocities []float64
	singles    []float64
}

func newSession(name string, start time.Time) *Session {
	return &Session{
		ID:    uuid.New().String(),
		Name:  name,
		Start: start,
	}
}

// Observe adds one estimate and reports whether it passed the threshold.
// velocity is in m/s, threshold in km/h.
func (s *Session) Observe(velocity, single, deviationPct, threshold float64) bool {
	if velocity*3.6 <= threshold {
		return false
	}

	if (!s.hasVMax || velocity > s.vmax) && velocity < MaxPlausibleVelocity {
		s.vmax = velocity
		s.hasVMax = true
	}
	s.velocities = append(s.velocities, velocity)

	if !s.hasBest || deviationPct < s.pctBest {
		s.pctBest = deviationPct
		s.cBest = single
		s.hasBest = true
	}
	s.singles = append(s.singles, single)
	return true
}

func (s *Session) Count() int {
	return len(s.singles)
}

// Record finalizes the session. It is false when a field was never set.
func (s *Session) Record(end time.Time) (Record, bool) {
	if s.Name == "" || !s.hasVMax || !s.hasBest || len(s.singles) == 0 {
		return Record{}, false
	}
	cavg, cvar := stat.PopMeanVariance(s.singles, nil)
	return Record{
		Name:    s.Name,
		VMax:    s.vmax,
		VAvg:    stat.Mean(s.velocities, nil),
		CBest:   s.cBest,
		PctBest: s.pctBest,
		CAvg:    cavg,
		CStd:    math.Sqrt(cvar),
		Start:   s.Start,
		End:     end,
	}, true
}

// Status is the live view of a running session.
type Status struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Start   string  `json:"dtstart"`
	Count   int     `json:"count"`
	VMax    float64 `json:"vmax,omitempty"`
	VAvg    float64 `json:"vavg,omitempty"`
	CBest   float64 `json:"cbest,omitempty"`
	PctBest float64 `json:"pctbest,omitempty"`
	CAvg    float64 `json:"cavg,omitempty"`
	CStd    float64 `json:"cstd,omitempty"`
}

func (s *Session) Status() Status {
	st := Status{
		ID:    s.ID,
		Name:  s.Name,
		Start: s.Start.Format(TimeLayout),
		Count: s.Count(),
		VMax:  s.vmax,
		CBest: s.cBest,
	}
	if s.hasBest {
		st.PctBest = s.pctBest
	}
	if len(s.singles) > 0 {
		var cvar float64
		st.CAvg, cvar = stat.PopMeanVariance(s.singles, nil)
		st.CStd = math.Sqrt(cvar)
		st.VAvg = stat.Mean(s.velocities, nil)
	}
	return st
}
