package corpus

import "fmt"

// TokenMatrix is a (steps x width) grid of token ids. Column b holds the
// b-th contiguous chunk of the source stream.
type TokenMatrix struct {
	Steps int
	Width int
	data  []int
}

// Batchify lays ids out in width columns, dropping the remainder that does
// not fill a whole row.
func Batchify(ids []int, width int) TokenMatrix {
	if width <= 0 {
		panic(fmt.Sprintf("corpus: batch width %d", width))
	}
	steps := len(ids) / width
	data := make([]int, steps*width)
	for b := 0; b < width; b++ {
		for t := 0; t < steps; t++ {
			data[t*width+b] = ids[b*steps+t]
		}
	}
	return TokenMatrix{Steps: steps, Width: width, data: data}
}

// Row returns time step t. The slice is shared.
func (m TokenMatrix) Row(t int) []int {
	return m.data[t*m.Width : (t+1)*m.Width]
}

func (m TokenMatrix) rows(from, to int) [][]int {
	out := make([][]int, to-from)
	for t := range out {
		out[t] = m.Row(from + t)
	}
	return out
}

// Window returns the input rows [i, i+n) and the targets shifted one step
// ahead, with n = min(maxLen, Steps-1-i). A window past the end is empty.
func (m TokenMatrix) Window(i, maxLen int) (input, target [][]int) {
	n := min(maxLen, m.Steps-1-i)
	if n <= 0 || i < 0 {
		return nil, nil
	}
	return m.rows(i, i+n), m.rows(i+1, i+1+n)
}

// WindowStarts returns the start offsets of consecutive windows of length
// bptt covering the matrix.
func (m TokenMatrix) WindowStarts(bptt int) []int {
	var starts []int
	for i := 0; i < m.Steps-1; i += bptt {
		starts = append(starts, i)
	}
	return starts
}

// Tokens returns the number of ids in the matrix.
func (m TokenMatrix) Tokens() int { return len(m.data) }

// Truncate shortens input and target to their common length.
func Truncate(input, target [][]int) ([][]int, [][]int) {
	n := min(len(input), len(target))
	return input[:n], target[:n]
}

// Flatten concatenates rows in time-major order, the row order of the
// model's logits.
func Flatten(rows [][]int) []int {
	var out []int
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
