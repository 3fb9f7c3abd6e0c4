package levels

import (
	"math/rand"
	"reflect"
	"testing"

	"gexflow/internal/models"
)

func row(strike, oi, vol float64) models.ExposureRow {
	return models.ExposureRow{Strike: strike, OIExposure: oi, VolExposure: vol}
}

func levelByName(t *testing.T, out []models.Level, name models.LevelName) models.Level {
	t.Helper()
	for _, l := range out {
		if l.Name == name {
			return l
		}
	}
	t.Fatalf("level %s not found in %v", name, out)
	return models.Level{}
}

func hasLevel(out []models.Level, name models.LevelName) bool {
	for _, l := range out {
		if l.Name == name {
			return true
		}
	}
	return false
}

func TestSelectRankedScenario(t *testing.T) {
	rows := []models.ExposureRow{
		row(2000, 100, 50),
		row(2100, 80, 60),
		row(1900, -120, -40),
		row(1800, -50, -90),
	}

	out := Select(rows)

	// 2000: oi rank 1, vol rank 2 -> score 4; 2100: oi rank 2, vol rank 1 -> score 5.
	if got := levelByName(t, out, models.LevelR1).Strike; got != 2000 {
		t.Errorf("R1 = %v, want 2000", got)
	}
	if got := levelByName(t, out, models.LevelR2).Strike; got != 2100 {
		t.Errorf("R2 = %v, want 2100", got)
	}
	// 1900: most negative oi rank 1, vol rank 2 -> score 4; 1800 -> score 5.
	if got := levelByName(t, out, models.LevelS1).Strike; got != 1900 {
		t.Errorf("S1 = %v, want 1900", got)
	}
	if got := levelByName(t, out, models.LevelS2).Strike; got != 1800 {
		t.Errorf("S2 = %v, want 1800", got)
	}

	r1 := levelByName(t, out, models.LevelR1)
	if r1.Side != models.SideCall {
		t.Errorf("R1 side = %q, want call", r1.Side)
	}
	s1 := levelByName(t, out, models.LevelS1)
	if s1.Side != models.SidePut {
		t.Errorf("S1 side = %q, want put", s1.Side)
	}
	if r1.OIExposure == nil || *r1.OIExposure != 100 {
		t.Errorf("R1 oi exposure = %v, want 100", r1.OIExposure)
	}
}

func TestSelectFlipBetweenR1AndS1(t *testing.T) {
	rows := []models.ExposureRow{
		row(2000, 100, 50),
		row(1900, -120, -40),
		row(1950, 5, 80), // smallest |oi| inside [1900, 2000], high volume
		row(2500, 90, 45),
	}

	out := Select(rows)
	flip := levelByName(t, out, models.LevelFlip)
	if flip.Strike != 1950 {
		t.Errorf("Flip = %v, want 1950", flip.Strike)
	}
	if flip.Side != "" {
		t.Errorf("Flip side = %q, want absent", flip.Side)
	}
}

func TestSelectFlipRequiresBothR1AndS1(t *testing.T) {
	rows := []models.ExposureRow{
		row(2000, 100, 50),
		row(2100, 80, 60),
	}
	out := Select(rows)
	if hasLevel(out, models.LevelFlip) {
		t.Errorf("Flip present without any support level: %v", out)
	}
}

func TestSelectExcludesZeroAndMixedSignRows(t *testing.T) {
	rows := []models.ExposureRow{
		row(2000, 0, 0),    // no-signal
		row(2050, 100, -5), // mixed sign
		row(2100, 80, 60),
	}

	out := Select(rows)
	for _, l := range out {
		if l.Strike == 2000 {
			t.Errorf("zero-exposure row ranked as %s", l.Name)
		}
		if l.Strike == 2050 && l.Name != models.LevelFlip {
			t.Errorf("mixed-sign row ranked as %s", l.Name)
		}
	}
	if got := levelByName(t, out, models.LevelR1).Strike; got != 2100 {
		t.Errorf("R1 = %v, want 2100", got)
	}
	if hasLevel(out, models.LevelR2) {
		t.Errorf("R2 present with a single positive-regime row")
	}
}

func TestSelectOutputStrikesSubsetOfInput(t *testing.T) {
	rows := []models.ExposureRow{
		row(4000, 12, 3),
		row(4100, 9, 14),
		row(4200, -7, -2),
		row(4300, -1, -20),
		row(4150, 2, 6),
	}
	strikes := map[float64]bool{}
	for _, r := range rows {
		strikes[r.Strike] = true
	}

	for _, l := range Select(rows) {
		if !strikes[l.Strike] {
			t.Errorf("fabricated strike %v for %s", l.Strike, l.Name)
		}
	}
}

func TestSelectOrderInsensitive(t *testing.T) {
	rows := []models.ExposureRow{
		row(2000, 100, 50),
		row(2100, 80, 60),
		row(2050, 3, 70),
		row(1900, -120, -40),
		row(1800, -50, -90),
		row(1950, -4, -1),
	}

	want := Select(rows)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.ExposureRow(nil), rows...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		if got := Select(shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d: got %v, want %v", i, got, want)
		}
	}
}

func TestSelectEmptyAndDegenerateInput(t *testing.T) {
	if out := Select(nil); len(out) != 0 {
		t.Errorf("Select(nil) = %v, want empty", out)
	}
	if out := Select([]models.ExposureRow{row(100, 0, 0)}); len(out) != 0 {
		t.Errorf("Select(no-signal only) = %v, want empty", out)
	}
}
