package optimizers

import (
	"math"
	"testing"

	"github.com/gomlx/galileo/ml/context"
	"github.com/stretchr/testify/assert"
)

func TestCosineSchedule(t *testing.T) {
	ctx := context.New()
	assert.Equal(t, 0.1, CosineSchedule(ctx, 0.1, 1000), "disabled by default")

	ctx.SetParams(map[string]any{
		ParamCosineScheduleSteps:           50,
		ParamCosineScheduleMinLearningRate: 0.001,
	})
	for step := range int64(100) {
		cycle := float64(step%50) / 50.0
		want := 0.001 + (1-0.001)*(math.Cos(cycle*math.Pi)+1)/2
		assert.InDelta(t, want, CosineSchedule(ctx, 1.0, step), 1e-9, "step %d", step)
	}
	assert.InDelta(t, 1.0, CosineSchedule(ctx, 1.0, 0), 1e-9)
	assert.InDelta(t, 1.0, CosineSchedule(ctx, 1.0, 50), 1e-9, "restarts every period")

	ctx.SetParam(ParamCosineScheduleMinLearningRate, 0.0)
	assert.InDelta(t, 0.25025, CosineSchedule(ctx, 0.5, 25), 1e-9)
}
