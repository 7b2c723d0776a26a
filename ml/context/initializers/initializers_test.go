package initializers

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitializers(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	assert.Equal(t, []float32{0, 0, 0, 0}, Zero(rng, []int{2, 2}).Data())
	assert.Equal(t, []float32{1, 1, 1}, One(rng, []int{3}).Data())

	values := RandomUniformFn(-0.5, 0.5)(rng, []int{100, 10})
	assert.Equal(t, []int{100, 10}, values.Dims())
	for _, v := range values.Data() {
		assert.True(t, v >= -0.5 && v < 0.5)
	}

	fanIn, fanOut := computeFanInFanOut([]int{30, 20})
	assert.Equal(t, 30, fanIn)
	assert.Equal(t, 20, fanOut)
	limit := float32(math.Sqrt(6.0 / 50.0))
	for _, v := range GlorotUniformFn()(rng, []int{30, 20}).Data() {
		assert.True(t, v >= -limit && v <= limit)
	}

	normal := RandomNormalFn(2)(rng, []int{10000})
	var sum, sum2 float64
	for _, v := range normal.Data() {
		sum += float64(v)
		sum2 += float64(v) * float64(v)
	}
	mean := sum / 10000
	assert.InDelta(t, 0.0, mean, 0.1)
	assert.InDelta(t, 2.0, math.Sqrt(sum2/10000-mean*mean), 0.1)
}
