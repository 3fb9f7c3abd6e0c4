package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ExposureRow is one strike's aggregated exposure values for one snapshot.
type ExposureRow struct {
	Strike      float64 `json:"strike"`
	OIExposure  float64 `json:"oi_exposure"`
	VolExposure float64 `json:"vol_exposure"`
	CallOI      float64 `json:"call_oi"`
	PutOI       float64 `json:"put_oi"`
	CallVolume  float64 `json:"call_volume"`
	PutVolume   float64 `json:"put_volume"`
}

// Valid reports whether every field is finite. Non-finite rows are filtered
// at the ingestion boundary rather than failing the whole snapshot.
func (r ExposureRow) Valid() bool {
	for _, v := range []float64{r.Strike, r.OIExposure, r.VolExposure, r.CallOI, r.PutOI, r.CallVolume, r.PutVolume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// NoSignal reports whether both exposures are exactly zero. Such rows carry
// no directional information and never participate in level ranking.
func (r ExposureRow) NoSignal() bool {
	return r.OIExposure == 0 && r.VolExposure == 0
}

// ChainSnapshot is one fetched option-chain snapshot for a single underlying
// and expiry.
type ChainSnapshot struct {
	Symbol    string        `json:"symbol"`
	Expiry    string        `json:"expiry"`
	Spot      float64       `json:"spot"`
	Rows      []ExposureRow `json:"rows"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// BreadthSnapshot carries advance/decline style market-breadth readings.
type BreadthSnapshot struct {
	Advancers       int       `json:"advancers"`
	Decliners       int       `json:"decliners"`
	Unchanged       int       `json:"unchanged"`
	AdvancingVolume float64   `json:"advancing_volume"`
	DecliningVolume float64   `json:"declining_volume"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// LevelName identifies a named price level.
type LevelName string

const (
	LevelR1   LevelName = "R1"
	LevelR2   LevelName = "R2"
	LevelS1   LevelName = "S1"
	LevelS2   LevelName = "S2"
	LevelFlip LevelName = "Flip"
)

// LevelSide marks which side of the book a level is derived from. Flip
// levels carry no side.
type LevelSide string

const (
	SideCall LevelSide = "call"
	SidePut  LevelSide = "put"
)

// Level is one ranked support/resistance/flip price level.
type Level struct {
	Name        LevelName `json:"name"`
	Strike      float64   `json:"strike"`
	OIExposure  *float64  `json:"oi_exposure,omitempty"`
	VolExposure *float64  `json:"vol_exposure,omitempty"`
	Side        LevelSide `json:"side,omitempty"`
}

// SnapshotRecord is the persisted unit. At most one record exists per dedup
// key; a colliding write is a success no-op.
type SnapshotRecord struct {
	FeedID        string          `json:"feed_id"`
	SessionKey    string          `json:"session_key"`
	TradingDay    string          `json:"trading_day"`
	MinuteBucket  int64           `json:"minute_bucket"`
	SubBucket     int64           `json:"sub_bucket"`
	Payload       json.RawMessage `json:"payload"`
	CapturedUTC   time.Time       `json:"captured_utc"`
	CapturedLocal time.Time       `json:"captured_local"`
}

// DedupKey returns the uniqueness tuple as a single string, usable both as a
// map key and for logging.
func (r SnapshotRecord) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", r.FeedID, r.SessionKey, r.TradingDay, r.MinuteBucket, r.SubBucket)
}
