package levels

import (
	"math"
	"sort"

	"gexflow/internal/models"
)

// Exposure weights: open interest counts double against volume.
const (
	oiWeight  = 2
	volWeight = 1
)

// strikeTolerance bounds the nearest-strike match when attaching exposure
// values to a level. It absorbs floating strike-grid misalignment and is not
// an error condition.
const strikeTolerance = 0.5

// Select turns one snapshot's exposure rows into ranked named price levels:
// up to R1/R2 from the positive regime, S1/S2 from the negative regime, and a
// Flip level between R1 and S1. It is a pure function; row order never
// affects the result.
func Select(rows []models.ExposureRow) []models.Level {
	usable := make([]models.ExposureRow, 0, len(rows))
	for _, r := range rows {
		if !r.Valid() || r.NoSignal() {
			continue
		}
		usable = append(usable, r)
	}

	var positive, negative []models.ExposureRow
	for _, r := range usable {
		switch {
		case r.OIExposure > 0 && r.VolExposure > 0:
			positive = append(positive, r)
		case r.OIExposure < 0 && r.VolExposure < 0:
			negative = append(negative, r)
		}
		// Mixed-sign rows are not reliable directional signals and join
		// neither regime.
	}

	resistance := rankRegime(positive, false)
	support := rankRegime(negative, true)

	out := make([]models.Level, 0, 5)
	names := []models.LevelName{models.LevelR1, models.LevelR2}
	for i, r := range resistance {
		if i >= len(names) {
			break
		}
		out = append(out, makeLevel(names[i], r.row.Strike, models.SideCall, usable))
	}
	names = []models.LevelName{models.LevelS1, models.LevelS2}
	for i, r := range support {
		if i >= len(names) {
			break
		}
		out = append(out, makeLevel(names[i], r.row.Strike, models.SidePut, usable))
	}

	if len(resistance) > 0 && len(support) > 0 {
		if flip, ok := flipLevel(usable, resistance[0].row.Strike, support[0].row.Strike); ok {
			out = append(out, flip)
		}
	}

	return out
}

type rankedRow struct {
	row     models.ExposureRow
	oiRank  int
	volRank int
	score   int
}

// rankRegime scores regime rows by weighted OI and volume ranks. For the
// positive regime larger exposures rank first; for the negative regime the
// most negative exposures rank first.
func rankRegime(rows []models.ExposureRow, ascending bool) []rankedRow {
	if len(rows) == 0 {
		return nil
	}

	better := func(a, b float64) bool { return a > b }
	if ascending {
		better = func(a, b float64) bool { return a < b }
	}

	ranked := make([]rankedRow, 0, len(rows))
	for _, r := range rows {
		rr := rankedRow{row: r, oiRank: 1, volRank: 1}
		for _, other := range rows {
			if better(other.OIExposure, r.OIExposure) {
				rr.oiRank++
			}
			if better(other.VolExposure, r.VolExposure) {
				rr.volRank++
			}
		}
		rr.score = oiWeight*rr.oiRank + volWeight*rr.volRank
		ranked = append(ranked, rr)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if a.oiRank != b.oiRank {
			return a.oiRank < b.oiRank
		}
		if a.volRank != b.volRank {
			return a.volRank < b.volRank
		}
		return a.row.Strike < b.row.Strike
	})
	return ranked
}

// flipLevel finds the zero-crossing candidate between R1 and S1: the row in
// the closed strike interval with the smallest |OI exposure| rank plus
// highest-volume rank. Only R1 and S1 bound the interval.
func flipLevel(rows []models.ExposureRow, r1, s1 float64) (models.Level, bool) {
	lo, hi := math.Min(r1, s1), math.Max(r1, s1)

	var candidates []models.ExposureRow
	for _, r := range rows {
		if r.Strike >= lo && r.Strike <= hi {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return models.Level{}, false
	}

	type flipRow struct {
		row       models.ExposureRow
		absOiRank int
		volRank   int
		score     int
	}
	ranked := make([]flipRow, 0, len(candidates))
	for _, r := range candidates {
		fr := flipRow{row: r, absOiRank: 1, volRank: 1}
		for _, other := range candidates {
			if math.Abs(other.OIExposure) < math.Abs(r.OIExposure) {
				fr.absOiRank++
			}
			if other.VolExposure > r.VolExposure {
				fr.volRank++
			}
		}
		fr.score = fr.absOiRank + fr.volRank
		ranked = append(ranked, fr)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if a.absOiRank != b.absOiRank {
			return a.absOiRank < b.absOiRank
		}
		if a.volRank != b.volRank {
			return a.volRank < b.volRank
		}
		return a.row.Strike < b.row.Strike
	})

	level := makeLevel(models.LevelFlip, ranked[0].row.Strike, "", rows)
	return level, true
}

// makeLevel attaches exposures from the exact-strike row when present, else
// from the nearest strike within tolerance, else leaves them null.
func makeLevel(name models.LevelName, strike float64, side models.LevelSide, rows []models.ExposureRow) models.Level {
	level := models.Level{Name: name, Strike: strike, Side: side}

	bestDist := math.Inf(1)
	var best *models.ExposureRow
	for i := range rows {
		dist := math.Abs(rows[i].Strike - strike)
		if dist < bestDist {
			bestDist = dist
			best = &rows[i]
		}
	}
	if best != nil && bestDist <= strikeTolerance {
		oi, vol := best.OIExposure, best.VolExposure
		level.OIExposure = &oi
		level.VolExposure = &vol
	}
	return level
}
