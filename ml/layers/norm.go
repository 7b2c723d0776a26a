// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"

	"github.com/gomlx/galileo/types/tensors"
)

// l2Epsilon avoids division by zero when normalizing all zeros vectors.
const l2Epsilon = 1e-12

// L2Normalize normalizes the last axis of x to unit L2 norm.
func L2Normalize(x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	flat := flatten2D(x)
	output := tensors.Zeros[float32](flat.Dims()...)
	norms := make([]float32, flat.Dim(0))
	for row := range flat.Dim(0) {
		values := flat.Row(row)
		var sum float64
		for _, v := range values {
			sum += float64(v) * float64(v)
		}
		norms[row] = float32(math.Sqrt(max(sum, l2Epsilon)))
		out := output.Row(row)
		for ii, v := range values {
			out[ii] = v / norms[row]
		}
	}

	backward := func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] {
		g := flatten2D(gradOutput)
		grad := tensors.Zeros[float32](g.Dims()...)
		for row := range g.Dim(0) {
			y, gy := output.Row(row), g.Row(row)
			var dot float32
			for ii := range y {
				dot += y[ii] * gy[ii]
			}
			gx := grad.Row(row)
			for ii := range gx {
				gx[ii] = (gy[ii] - y[ii]*dot) / norms[row]
			}
		}
		return grad.Reshape(x.Dims()...)
	}
	return output.Reshape(x.Dims()...), backward
}
