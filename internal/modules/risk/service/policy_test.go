package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

var tiers = []models.Tier{models.TierFree, models.TierBasic, models.TierPremium, models.TierVIP}

func TestTierTableMonotonicity(t *testing.T) {
	for i := 1; i < len(tiers); i++ {
		lo, _ := Params(tiers[i-1])
		hi, _ := Params(tiers[i])
		assert.Greater(t, lo.MinNotional, hi.MinNotional, "floor must decrease with tier")
		assert.Less(t, lo.MaxBalanceFraction, hi.MaxBalanceFraction, "fraction must increase with tier")
		assert.Less(t, lo.MaxLeverage, hi.MaxLeverage, "leverage must increase with tier")
	}
}

func TestOnlyVIPIsProtectionExempt(t *testing.T) {
	for _, tier := range tiers {
		p, ok := Params(tier)
		require.True(t, ok)
		assert.Equal(t, tier == models.TierVIP, p.ProtectionExempt)
	}
}

func TestStrongHalvesMinNotional(t *testing.T) {
	pl := NewPolicy()
	for _, tier := range tiers {
		p, _ := Params(tier)
		normal := pl.MinNotional(tier, models.ClassNormal)
		strong := pl.MinNotional(tier, models.ClassStrong)
		assert.Equal(t, p.MinNotional, normal)
		assert.Equal(t, math.Floor(p.MinNotional/2), strong)
	}
}

func TestSizeBelowFloor(t *testing.T) {
	pl := NewPolicy()
	_, err := pl.Size(SizingRequest{
		User:      models.User{Tier: models.TierFree},
		Class:     models.ClassNormal,
		Direction: models.DirLong,
		Entry:     50000,
		Available: 100, // 100 * 0.10 * 2 = 20 < 50
	})
	require.Error(t, err)
	assert.Equal(t, models.ReasonBelowMinimumNotional, models.ReasonOf(err))
}

func TestSizeStrongUnlocksSmallDeposit(t *testing.T) {
	pl := NewPolicy()
	req := SizingRequest{
		User:      models.User{Tier: models.TierFree},
		Class:     models.ClassStrong,
		Direction: models.DirLong,
		Entry:     50000,
		Available: 150, // notional 30 >= floor(50/2)=25
	}
	res, err := pl.Size(req)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.Notional)

	req.Class = models.ClassNormal
	_, err = pl.Size(req)
	assert.Error(t, err, "same deposit must fail the normal floor")
}

func TestSizeRespectsPersonalAndHardCaps(t *testing.T) {
	pl := NewPolicy()
	res, err := pl.Size(SizingRequest{
		User:      models.User{Tier: models.TierVIP, MaxLeverage: 3, MaxPositionPct: 0.2},
		Class:     models.ClassNormal,
		Direction: models.DirLong,
		Entry:     100,
		Available: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Leverage, "personal cap below tier cap wins")
	assert.Equal(t, 200.0, res.Margin)
	assert.Equal(t, 600.0, res.Notional)
	assert.InDelta(t, 6.0, res.Size, 1e-9)
}

func TestSizeDefaultProtectiveLevels(t *testing.T) {
	pl := NewPolicy()
	res, err := pl.Size(SizingRequest{
		User:      models.User{Tier: models.TierBasic},
		Class:     models.ClassNormal,
		Direction: models.DirLong,
		Entry:     100,
		Available: 1000,
	})
	require.NoError(t, err)
	// BASIC: lev=3, дефолты SL=6%, TP=9%
	assert.InDelta(t, 94.0, res.StopLoss, 1e-9)
	assert.InDelta(t, 109.0, res.TakeProfit, 1e-9)
}

func TestSizeClampsCallerLevels(t *testing.T) {
	pl := NewPolicy()
	res, err := pl.Size(SizingRequest{
		User:       models.User{Tier: models.TierBasic},
		Class:      models.ClassNormal,
		Direction:  models.DirLong,
		Entry:      100,
		Available:  1000,
		StopLoss:   10,  // 90% от входа, клампится в maxStopDist
		TakeProfit: 500, // 400%, клампится в maxTakeDist
	})
	require.NoError(t, err)
	assert.InDelta(t, 100*(1-maxStopDist), res.StopLoss, 1e-9)
	assert.InDelta(t, 100*(1+maxTakeDist), res.TakeProfit, 1e-9)
}

func TestSizeShortSideLevels(t *testing.T) {
	pl := NewPolicy()
	res, err := pl.Size(SizingRequest{
		User:      models.User{Tier: models.TierBasic},
		Class:     models.ClassNormal,
		Direction: models.DirShort,
		Entry:     100,
		Available: 1000,
	})
	require.NoError(t, err)
	assert.Greater(t, res.StopLoss, 100.0, "short stop is above entry")
	assert.Less(t, res.TakeProfit, 100.0, "short take is below entry")
}

func TestSizeMissingProtection(t *testing.T) {
	pl := NewPolicy()

	// без цены входа защитные уровни не считаются
	_, err := pl.Size(SizingRequest{
		User:      models.User{Tier: models.TierBasic},
		Class:     models.ClassNormal,
		Direction: models.DirLong,
		Entry:     0,
		Available: 1000,
	})
	require.Error(t, err)
	assert.Equal(t, models.ReasonMissingProtection, models.ReasonOf(err))

	// VIP освобождён от требования защиты
	res, err := pl.Size(SizingRequest{
		User:      models.User{Tier: models.TierVIP},
		Class:     models.ClassNormal,
		Direction: models.DirLong,
		Entry:     0,
		Available: 1000,
	})
	require.NoError(t, err)
	assert.Zero(t, res.StopLoss)
	assert.Zero(t, res.TakeProfit)
}

func TestSizeUnknownTier(t *testing.T) {
	pl := NewPolicy()
	_, err := pl.Size(SizingRequest{User: models.User{Tier: "PLATINUM"}, Available: 1000, Entry: 1})
	assert.Error(t, err)
}
