// Package governor implements the adaptive governor (C6): a pure
// function of (prior state, latest telemetry) producing quality,
// tile-size, target-fps, and foveated-radius decisions with
// hysteresis. It never blocks and never touches I/O, matching
// spec.md §4.6 and the concurrency model's requirement that governor
// logic run on the scheduler, not the worker pool.
//
// The control law is ported byte-for-byte from
// core/adaptive_governor.py's AdaptiveGovernor.
package governor

import (
	"time"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/config"
)

// Backpressure is the coarse flag a viewer reports in CLIENT_STATS.
type Backpressure string

const (
	BackpressureNone  Backpressure = "none"
	BackpressureHeavy Backpressure = "heavy"
)

// modeParams is one row of the mode table (spec.md §4.6).
type modeParams struct {
	fps            int
	minQ, maxQ     float64
	targetQ        float64
}

var modeTable = map[config.Mode]modeParams{
	config.ModeGaming:   {fps: 60, minQ: 30, maxQ: 80, targetQ: 65},
	config.ModeBalanced: {fps: 45, minQ: 20, maxQ: 90, targetQ: 75},
	config.ModeStudio:   {fps: 30, minQ: 50, maxQ: 100, targetQ: 95},
}

// Telemetry is one CLIENT_STATS sample (spec.md §6.1). It carries no
// mode field: the governor's mode/clamp bounds are fixed at
// construction (one governor serves every viewer on its engine), so a
// per-viewer self-reported mode tag cannot move them.
type Telemetry struct {
	FPS           float64
	AvgDecodeMs   float64
	PendingTiles  int
	Battery       float64
	IsCharging    bool
	BandwidthKbps float64
	Backpressure  Backpressure
	DeviceName    string
	SuperEco      bool // mode tag == "SUPER_ECO" within the low-power tier
}

const (
	qualityDeadband  = 5.0
	updateMinPeriod  = 500 * time.Millisecond
	foveatedMin      = 80
	foveatedMax      = 400
	foveatedDefault  = 200
	foveatedShrinkBy = 40
	foveatedGrowBy   = 10
)

// Governor holds per-engine adaptive state. One governor per engine
// (spec.md §2).
type Governor struct {
	tier config.Tier
	mode modeParams

	currentQuality  float64
	lastApplied     float64
	currentTileSize int
	targetFPS       int

	hasFocus        bool
	foveatedRadius  int

	lastUpdate time.Time

	// cached telemetry fields surfaced through /api/stats, grounded on
	// air_server_app.py storing device_name/fps/battery on the websocket.
	LastDeviceName string
	LastFPS        float64
	LastBattery    float64
	LastCharging   bool
}

// New builds a governor for the given mode/tier, seeding quality at
// the mode's target and tile size at 128 (spec.md §4.6 defaults,
// matching AdaptiveGovernor.__init__). The mode/tier are fixed for the
// governor's lifetime, matching AdaptiveGovernor.__init__ setting
// self.mode/self.min_quality/self.max_quality once and never touching
// them again in update() — a single governor serves every viewer on
// its engine (spec.md §2), so per-viewer CLIENT_STATS.mode must not be
// able to move the clamp bounds or the non-AIR target fps out from
// under the other viewers.
func New(mode config.Mode, tier config.Tier) *Governor {
	mp, ok := modeTable[mode]
	if !ok {
		mp = modeTable[config.ModeBalanced]
	}

	target := mp.fps
	if tier == config.TierAir {
		target = 20
	}

	g := &Governor{
		tier:            tier,
		mode:            mp,
		currentQuality:  mp.targetQ,
		lastApplied:     mp.targetQ,
		currentTileSize: 128,
		targetFPS:       target,
		foveatedRadius:  foveatedDefault,
	}
	return g
}

// UpdateCursor declares a gaze/focus point is active, enabling
// foveated-radius adjustments (spec.md §4.6 step 7).
func (g *Governor) UpdateCursor() { g.hasFocus = true }

// ClearCursor disables foveated adjustments.
func (g *Governor) ClearCursor() { g.hasFocus = false }

// Update applies one CLIENT_STATS sample if at least updateMinPeriod
// has elapsed since the last applied update (spec.md §5 governor
// cadence). The quality clamps and non-AIR target fps always come from
// the governor's own fixed mode, set at construction; Telemetry carries
// no mode field. Only the AIR-tier fps override reads per-sample
// telemetry (t.SuperEco).
func (g *Governor) Update(t Telemetry) {
	now := time.Now()
	if !g.lastUpdate.IsZero() && now.Sub(g.lastUpdate) < updateMinPeriod {
		return
	}
	g.lastUpdate = now

	g.LastDeviceName = t.DeviceName
	g.LastFPS = t.FPS
	g.LastBattery = t.Battery
	g.LastCharging = t.IsCharging

	mp := g.mode

	targetFPS := mp.fps
	if g.tier == config.TierAir {
		targetFPS = 20
		if t.SuperEco {
			targetFPS = 10
		}
	}
	g.targetFPS = targetFPS

	queuePressure := maxf(0, float64(t.PendingTiles)-20) / 50.0
	decodePressure := maxf(0, t.AvgDecodeMs-10) / 20.0
	if t.BandwidthKbps > 5000 {
		decodePressure += 0.3
	}
	if t.Backpressure == BackpressureHeavy {
		decodePressure += 0.5
	}
	total := queuePressure + decodePressure

	if g.tier == config.TierFlow && g.hasFocus {
		if total > 0.3 {
			g.foveatedRadius = maxInt(foveatedMin, g.foveatedRadius-foveatedShrinkBy)
		} else if total < 0.05 {
			g.foveatedRadius = minInt(foveatedMax, g.foveatedRadius+foveatedGrowBy)
		}
	}

	newQuality := g.currentQuality
	if total > 0.1 {
		newQuality = newQuality / (1.0 + minf(total, 0.5))
	} else {
		newQuality += 2.0
	}
	newQuality = clampf(newQuality, mp.minQ, mp.maxQ)

	wasAtBound := g.lastApplied <= mp.minQ || g.lastApplied >= mp.maxQ
	isAtBound := newQuality <= mp.minQ || newQuality >= mp.maxQ
	if absf(newQuality-g.lastApplied) > qualityDeadband || (isAtBound && !wasAtBound) {
		g.lastApplied = newQuality
	}
	g.currentQuality = newQuality

	switch {
	case decodePressure > 0.8:
		g.currentTileSize = 512
	case decodePressure > 0.5:
		g.currentTileSize = 256
	case total < 0.05:
		g.currentTileSize = 128
	}
}

// GetQuality returns the currently applied quality, an integer in the
// mode's clamp range.
func (g *Governor) GetQuality() int { return int(g.lastApplied) }

// GetTileSize returns the currently applied tile size.
func (g *Governor) GetTileSize() int { return g.currentTileSize }

// GetTargetFPS returns the currently applied target frame rate.
func (g *Governor) GetTargetFPS() int { return g.targetFPS }

// GetFoveatedRadius returns the current foveated radius, clamped to
// [80,400].
func (g *Governor) GetFoveatedRadius() int { return g.foveatedRadius }

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
func absf(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
