package bptt

import "fmt"

// Segment is one sub-window [Start, Start+Len) of an outer window.
type Segment struct {
	Index int
	Start int
	Len   int
}

// End returns the exclusive end offset.
func (s Segment) End() int { return s.Start + s.Len }

func (s Segment) String() string {
	return fmt.Sprintf("#%d[%d,%d)", s.Index, s.Start, s.End())
}

// Segments partitions [0, length) into consecutive sub-windows of size
// step. The last one is shorter when step does not divide length, and a
// step of at least length yields a single segment.
func Segments(length, step int) []Segment {
	if step <= 0 {
		panic(fmt.Sprintf("bptt: segment step %d", step))
	}
	segs := make([]Segment, 0, (length+step-1)/step)
	for start := 0; start < length; start += step {
		segs = append(segs, Segment{
			Index: len(segs),
			Start: start,
			Len:   min(step, length-start),
		})
	}
	return segs
}
