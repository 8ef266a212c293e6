// Package simd holds the unrolled float64 kernels that the autograd ops are
// built on. Everything here is exact; training needs derivatives that agree
// with the forward functions.
package simd

import "math"

// VecAdd performs dst += src for float64 vectors
func VecAdd(dst, src []float64) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	// Handle remainder
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddScaled performs dst += src * scale for float64 vectors
func VecAddScaled(dst, src []float64, scale float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// VecMulAdd performs dst += a * b element-wise.
func VecMulAdd(dst, a, b []float64) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += a[i] * b[i]
		dst[i+1] += a[i+1] * b[i+1]
		dst[i+2] += a[i+2] * b[i+2]
		dst[i+3] += a[i+3] * b[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += a[i] * b[i]
	}
}

// Scale performs dst *= s.
func Scale(dst []float64, s float64) {
	for i := range dst {
		dst[i] *= s
	}
}

// DotProduct computes the dot product of two float64 vectors
func DotProduct(a, b []float64) float64 {
	var sum float64
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += a[i] * b[i]
		sum += a[i+1] * b[i+1]
		sum += a[i+2] * b[i+2]
		sum += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// SumSquares returns the squared L2 norm of v.
func SumSquares(v []float64) float64 {
	return DotProduct(v, v)
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// LogSumExp computes log(sum(exp(row))) without overflow.
func LogSumExp(row []float64) float64 {
	max := row[0]
	for _, v := range row {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

// SoftmaxInto writes softmax(row) into dst.
func SoftmaxInto(dst, row []float64) {
	lse := LogSumExp(row)
	for i, v := range row {
		dst[i] = math.Exp(v - lse)
	}
}
