package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/config"
)

func TestNew_SeedsModeDefaults(t *testing.T) {
	g := New(config.ModeGaming, config.TierFlow)
	assert.Equal(t, 65, g.GetQuality())
	assert.Equal(t, 128, g.GetTileSize())
	assert.Equal(t, 60, g.GetTargetFPS())
}

func TestNew_AirTierOverridesTargetFPS(t *testing.T) {
	g := New(config.ModeGaming, config.TierAir)
	assert.Equal(t, 20, g.GetTargetFPS())
}

func TestUpdate_HighPressureLowersQuality(t *testing.T) {
	g := New(config.ModeBalanced, config.TierFlow)
	before := g.GetQuality()

	g.Update(Telemetry{PendingTiles: 200, AvgDecodeMs: 80})

	assert.Less(t, g.GetQuality(), before)
}

func TestUpdate_LowPressureRaisesQuality(t *testing.T) {
	g := New(config.ModeBalanced, config.TierFlow)
	g.currentQuality = 50
	g.lastApplied = 50

	// Each low-pressure tick adds 2; the applied value follows once the
	// running value is more than the deadband (5) away: 52, 54, 56.
	for i := 0; i < 3; i++ {
		g.Update(Telemetry{PendingTiles: 0, AvgDecodeMs: 0})
		time.Sleep(updateMinPeriod + 10*time.Millisecond)
	}

	assert.Greater(t, g.GetQuality(), 50)
}

func TestUpdate_RespectsModeClamp(t *testing.T) {
	g := New(config.ModeGaming, config.TierFlow)
	g.currentQuality = 79
	g.lastApplied = 79

	for i := 0; i < 5; i++ {
		g.Update(Telemetry{PendingTiles: 0, AvgDecodeMs: 0})
		time.Sleep(updateMinPeriod + 10*time.Millisecond)
	}

	assert.LessOrEqual(t, g.GetQuality(), 80)
}

func TestUpdate_HysteresisDeadbandSuppressesSmallChanges(t *testing.T) {
	g := New(config.ModeBalanced, config.TierFlow)
	g.currentQuality = 75
	g.lastApplied = 75

	// Pending 25 gives a total pressure of exactly 0.1, which is not above
	// the 0.1 threshold, so quality is nudged up by 2 — less than the
	// deadband; lastApplied should not move.
	g.Update(Telemetry{PendingTiles: 25, AvgDecodeMs: 10})

	assert.Equal(t, 75, g.GetQuality())
}

func TestUpdate_MinPeriodGatesRapidCalls(t *testing.T) {
	g := New(config.ModeBalanced, config.TierFlow)
	g.currentQuality = 50
	g.lastApplied = 50

	g.Update(Telemetry{PendingTiles: 0})
	afterFirst := g.GetQuality()

	// Immediately calling again should be a no-op (within updateMinPeriod).
	g.Update(Telemetry{PendingTiles: 1000, AvgDecodeMs: 500})

	assert.Equal(t, afterFirst, g.GetQuality())
}

func TestUpdate_TileSizeGrowsUnderDecodePressure(t *testing.T) {
	g := New(config.ModeBalanced, config.TierFlow)
	g.Update(Telemetry{AvgDecodeMs: 30}) // decodePressure = 1.0 > 0.8
	assert.Equal(t, 512, g.GetTileSize())
}

func TestUpdate_TileSizeRelaxesUnderLowPressure(t *testing.T) {
	g := New(config.ModeBalanced, config.TierFlow)
	g.currentTileSize = 512
	g.Update(Telemetry{PendingTiles: 0, AvgDecodeMs: 0})
	assert.Equal(t, 128, g.GetTileSize())
}

func TestUpdate_FoveatedRadiusOnlyMovesOnFlowTierWithFocus(t *testing.T) {
	g := New(config.ModeGaming, config.TierWarp)
	g.UpdateCursor()
	before := g.GetFoveatedRadius()
	g.Update(Telemetry{PendingTiles: 500, AvgDecodeMs: 100})
	assert.Equal(t, before, g.GetFoveatedRadius())
}

func TestUpdate_FoveatedRadiusShrinksUnderPressureOnFlowTier(t *testing.T) {
	g := New(config.ModeGaming, config.TierFlow)
	g.UpdateCursor()
	before := g.GetFoveatedRadius()
	g.Update(Telemetry{PendingTiles: 500, AvgDecodeMs: 100})
	assert.Less(t, g.GetFoveatedRadius(), before)
}

func TestUpdate_FoveatedRadiusStaysWithinBounds(t *testing.T) {
	g := New(config.ModeGaming, config.TierFlow)
	g.UpdateCursor()
	for i := 0; i < 20; i++ {
		g.Update(Telemetry{PendingTiles: 1000, AvgDecodeMs: 1000})
		time.Sleep(updateMinPeriod + 10*time.Millisecond)
	}
	assert.GreaterOrEqual(t, g.GetFoveatedRadius(), foveatedMin)
	assert.LessOrEqual(t, g.GetFoveatedRadius(), foveatedMax)
}

func TestUpdate_SuperEcoHalvesAirTargetFPS(t *testing.T) {
	g := New(config.ModeBalanced, config.TierAir)
	g.Update(Telemetry{SuperEco: true})
	assert.Equal(t, 10, g.GetTargetFPS())
}

func TestUpdate_NonAirTargetFPSIsFixedByConstructedMode(t *testing.T) {
	// A governor built for GAMING keeps GAMING's 60fps target on every
	// tick regardless of what any individual viewer's telemetry looks
	// like — there is no Mode field on Telemetry to sway it.
	g := New(config.ModeGaming, config.TierFlow)
	g.Update(Telemetry{PendingTiles: 0, AvgDecodeMs: 0})
	assert.Equal(t, 60, g.GetTargetFPS())
}

func TestUpdate_ClampBoundsAreFixedByConstructedMode(t *testing.T) {
	// STUDIO's clamp ceiling is 100; once a STUDIO governor reaches it,
	// repeated low-pressure ticks (which would raise quality further)
	// must stay capped at 100, never spilling into another mode's range.
	g := New(config.ModeStudio, config.TierFlow)
	g.currentQuality = 99
	g.lastApplied = 99

	for i := 0; i < 5; i++ {
		g.Update(Telemetry{PendingTiles: 0, AvgDecodeMs: 0})
		time.Sleep(updateMinPeriod + 10*time.Millisecond)
	}

	assert.LessOrEqual(t, g.GetQuality(), 100)
}
