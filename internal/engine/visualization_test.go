package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisualizationBlursAndOrders(t *testing.T) {
	e, clock := newTestEngine(t, testConfig(), Options{})
	startEngine(t, e)

	_, err := e.AddOrder(context.Background(), limitOrder(SideBuy, "1.54", 1994))
	require.NoError(t, err)

	views := e.VisualizationData()
	require.Len(t, views, 1)
	assert.Equal(t, AnimFilling, views[0].Animation)
	assert.True(t, views[0].Current)
	require.Len(t, views[0].Blocks, 1)
	require.Len(t, views[0].Blocks[0].Orders, 1)
	ov := views[0].Blocks[0].Orders[0]
	assert.True(t, ov.Amount.Equal(decimal.RequireFromString("1.5")), "amount %s", ov.Amount)
	assert.True(t, ov.Price.Equal(decimal.NewFromInt(1990)), "price %s", ov.Price)

	clock.Advance(1100 * time.Millisecond)

	views = e.VisualizationData()
	require.GreaterOrEqual(t, len(views), 3)
	for i := 1; i < len(views); i++ {
		assert.Less(t, views[i-1].Index, views[i].Index)
	}
	assert.Equal(t, AnimDone, views[0].Animation)
	assert.Equal(t, 100.0, views[0].Progress)
	assert.Len(t, views[0].Blocks, 5)
	assert.Equal(t, AnimIdle, views[len(views)-1].Animation)
}

func TestBuildVisualizationMatchingProgress(t *testing.T) {
	s := EngineState{
		Epochs: map[string]Epoch{
			"epoch-1": {ID: "epoch-1", Index: 1, Status: EpochActive},
			"epoch-0": {ID: "epoch-0", Index: 0, Status: EpochMatching},
		},
		Progress:       MatchingProgress{Phase: PhaseMatching, EpochID: "epoch-0", Percent: 40},
		CurrentEpochID: "epoch-1",
	}
	views := BuildVisualization(s)
	require.Len(t, views, 2)
	assert.Equal(t, "epoch-0", views[0].ID)
	assert.Equal(t, AnimMatching, views[0].Animation)
	assert.Equal(t, 40.0, views[0].Progress)
	assert.Equal(t, AnimIdle, views[1].Animation)
	assert.True(t, views[1].Current)
}
