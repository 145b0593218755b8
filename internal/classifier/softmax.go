// Package classifier provides emotion classifiers backed by a local ONNX
// model or a remote inference service.
package classifier

import "math"

// softmax rescales logits in place so they sum to one
func softmax(v []float32) {
	if len(v) == 0 {
		return
	}

	maxV := v[0]
	for _, x := range v[1:] {
		maxV = max(maxV, x)
	}

	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - maxV))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
