// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/types/tensors"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001

	// AdamDefaultScope is the default scope name for moments and step used by Adam.
	AdamDefaultScope = "adam"
)

var (
	// ParamAdamEpsilon is the epsilon used by Adam in the denominator, for numerical stability.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamBeta1 and ParamAdamBeta2 are the exponential decays of the first and second moments.
	ParamAdamBeta1 = "adam_beta1"
	ParamAdamBeta2 = "adam_beta2"
)

// Adam optimization is a stochastic gradient descent method that is based on adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// Row sparse variables are updated lazily: only the rows with gradients have their moments updated.
//
// It returns a configuration object that can be used to set its parameters. Once configured call Done, and it
// will return an optimizer.Interface.
func Adam() *AdamConfig {
	return &AdamConfig{
		scopeName:    AdamDefaultScope,
		learningRate: -1, // < 0 means use the default.
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam based optimizer.Interface.
type AdamConfig struct {
	scopeName    string
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64 // Works as AdamW.
}

// Scope defines the scope, under Scope, used to store the 1st and 2nd order moments of the gradients and the
// step number used by Adam optimizer.
//
// It defaults to AdamDefaultScope.
func (c *AdamConfig) Scope(name string) *AdamConfig {
	c.scopeName = name
	return c
}

// LearningRate sets the base learning rate.
//
// Default is either the value of ParamLearningRate ("learning_rate") parameter in Context if defined, or 0.001 if not.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// WeightDecay configure optimizer to work as AdamW, with the given static weight decay.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// FromContext reads the betas and epsilon from the context hyperparameters, if set.
func (c *AdamConfig) FromContext(ctx *context.Context) *AdamConfig {
	c.beta1 = context.GetParamOr(ctx, ParamAdamBeta1, c.beta1)
	c.beta2 = context.GetParamOr(ctx, ParamAdamBeta2, c.beta2)
	c.epsilon = context.GetParamOr(ctx, ParamAdamEpsilon, c.epsilon)
	return c
}

// Done will finish the configuration and construct an Interface that implements Adam.
func (c *AdamConfig) Done() Interface {
	return &adam{config: *c}
}

// adam implements the Adam algorithm as an optimizer.Interface.
type adam struct {
	config AdamConfig
}

// Name implements Interface.
func (o *adam) Name() string { return "adam" }

// Apply implements Interface.
func (o *adam) Apply(ctx *context.Context) {
	c := &o.config
	lr := c.learningRate
	if lr < 0 {
		lr = LearningRate(ctx, AdamDefaultLearningRate)
	} else {
		lr = CosineSchedule(ctx, lr, GetGlobalStep(ctx))
	}
	clip := float32(context.GetParamOr(ctx, ParamClipStepByValue, 0.0))
	step := float64(IncrementGlobalStep(ctx))
	debias1 := 1 / (1 - math.Pow(c.beta1, step))
	debias2 := 1 / (1 - math.Pow(c.beta2, step))
	beta1, beta2 := float32(c.beta1), float32(c.beta2)
	epsilon := float32(c.epsilon)
	stepSize := float32(lr * debias1)
	weightDecay := float32(lr * c.weightDecay)

	for _, v := range trainableWithGrad(ctx) {
		m := stateVariable(ctx, c.scopeName, v, "_1st_moment", initializers.Zero).Data()
		vv := stateVariable(ctx, c.scopeName, v, "_2nd_moment", initializers.Zero).Data()
		forEachSlice(v, func(offset int, value, grad []float32) {
			for ii, g := range grad {
				idx := offset + ii
				m[idx] = beta1*m[idx] + (1-beta1)*g
				vv[idx] = beta2*vv[idx] + (1-beta2)*g*g
				denominator := float32(math.Sqrt(float64(vv[idx])*debias2)) + epsilon
				delta := stepSize * m[idx] / denominator
				if weightDecay > 0 {
					delta += weightDecay * value[ii]
				}
				value[ii] -= clipStep(clip, delta)
			}
		})
	}
}

// Clear implements Interface, removing the moments.
func (o *adam) Clear(ctx *context.Context) {
	deleteScope(ctx, o.config.scopeName)
}

// AdagradDefaultLearningRate is used by Adagrad if no learning rate is set.
const AdagradDefaultLearningRate = 0.01

// AdagradInitialAccumulator is the initial value of the accumulated squared gradients.
const AdagradInitialAccumulator = 0.1

// adagrad implements the Adagrad algorithm: per value learning rates scaled by the inverse square root
// of the sum of its squared gradients.
type adagrad struct{}

// Adagrad creates an Adagrad optimizer. It looks for "learning_rate" in Context.Params for the learning
// rate, otherwise it defaults to AdagradDefaultLearningRate.
func Adagrad() Interface {
	return &adagrad{}
}

// Name implements Interface.
func (o *adagrad) Name() string { return "adagrad" }

// Apply implements Interface.
func (o *adagrad) Apply(ctx *context.Context) {
	lr := float32(LearningRate(ctx, AdagradDefaultLearningRate))
	clip := float32(context.GetParamOr(ctx, ParamClipStepByValue, 0.0))
	for _, v := range trainableWithGrad(ctx) {
		acc := stateVariable(ctx, o.Name(), v, "_accumulator", func(_ *rand.Rand, dims []int) *tensors.Tensor[float32] {
			return tensors.Full[float32](AdagradInitialAccumulator, dims...)
		}).Data()
		forEachSlice(v, func(offset int, value, grad []float32) {
			for ii, g := range grad {
				idx := offset + ii
				acc[idx] += g * g
				value[ii] -= clipStep(clip, lr*g/float32(math.Sqrt(float64(acc[idx]))))
			}
		})
	}
	IncrementGlobalStep(ctx)
}

// Clear implements Interface, removing the accumulators.
func (o *adagrad) Clear(ctx *context.Context) {
	deleteScope(ctx, o.Name())
}
