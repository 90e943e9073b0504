package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

func init() {
	_ = logger.Init()
}

type stubFG struct {
	v   float64
	err error
}

func (s stubFG) FearGreed(context.Context) (float64, error) { return s.v, s.err }

type stubDom struct{}

func (stubDom) Dominance(context.Context) (float64, float64, error) { return 52.0, 0.4, nil }

type stubPulse struct {
	pm, vw float64
	err    error
}

func (s stubPulse) Pulse(context.Context) (float64, float64, error) { return s.pm, s.vw, s.err }

func TestComputeMarketPulseRules(t *testing.T) {
	cases := []struct {
		name string
		pm   float64
		vw   float64
		fg   float64
		want models.VerdictDirection
	}{
		{"long breadth and volume", 70, 1.2, 50, models.VerdictLong},
		{"short breadth and volume", 30, -1.2, 50, models.VerdictShort},
		{"neutral band", 50, 0.3, 50, models.VerdictBoth},
		{"weak volume delta", 75, 0.2, 50, models.VerdictBoth},
		{"conflict breadth vs volume", 75, -1.5, 50, models.VerdictNone},
		{"fear override", 30, -1.2, 20, models.VerdictLong},
		{"greed override", 70, 1.2, 90, models.VerdictShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, conf := Compute(models.SentimentSnapshot{
				FearGreed: tc.fg,
				PMPlus:    tc.pm,
				VWDelta:   tc.vw,
			})
			assert.Equal(t, tc.want, dir)
			assert.GreaterOrEqual(t, conf, 0.0)
			assert.LessOrEqual(t, conf, 1.0)
		})
	}
}

func TestConflictConfidenceIsLow(t *testing.T) {
	dir, conf := Compute(models.SentimentSnapshot{FearGreed: 50, PMPlus: 75, VWDelta: -1.5})
	assert.Equal(t, models.VerdictNone, dir)
	assert.Equal(t, 0.2, conf)
}

func TestRefreshDegradesFailedFeedToNeutral(t *testing.T) {
	clk := scheduler.NewFake(time.Now())
	agg := NewAggregator(
		stubFG{err: errors.New("feed down")},
		stubDom{},
		stubPulse{pm: 70, vw: 1.2},
		clk, 15*time.Minute,
	)

	agg.Refresh(context.Background())

	v := agg.Current()
	assert.Equal(t, models.VerdictLong, v.Direction)
	assert.Equal(t, 50.0, v.Inputs.FearGreed, "failed feed must degrade to neutral")
}

func TestCurrentBeforeFirstRefreshIsNone(t *testing.T) {
	clk := scheduler.NewFake(time.Now())
	agg := NewAggregator(stubFG{v: 50}, stubDom{}, stubPulse{pm: 70, vw: 1.2}, clk, 15*time.Minute)

	v := agg.Current()
	assert.Equal(t, models.VerdictNone, v.Direction)
}

func TestStaleVerdictCollapsesToNone(t *testing.T) {
	clk := scheduler.NewFake(time.Now())
	cadence := 15 * time.Minute
	agg := NewAggregator(stubFG{v: 50}, stubDom{}, stubPulse{pm: 70, vw: 1.2}, clk, cadence)

	agg.Refresh(context.Background())
	require.Equal(t, models.VerdictLong, agg.Current().Direction)

	// ровно на границе 2×cadence вердикт ещё жив
	clk.Advance(2 * cadence)
	assert.Equal(t, models.VerdictLong, agg.Current().Direction)

	clk.Advance(time.Second)
	stale := agg.Current()
	assert.Equal(t, models.VerdictNone, stale.Direction)
	assert.LessOrEqual(t, stale.Confidence, 0.2)
}
