// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/hpcgroup/pipit-sub000/trace"
)

// CommConfig names the events and attributes that identify messages: send
// Instants carrying their matched receive's event index under MatchKey and,
// optionally, a message size under SizeKey.
type CommConfig struct {
	SendName string
	MatchKey string
	SizeKey  string
}

// DefaultCommConfig returns the default communication attribute names.
func DefaultCommConfig() CommConfig {
	return CommConfig{
		SendName: "MpiSend",
		MatchKey: "matching_event",
		SizeKey:  "msg_size",
	}
}

// CommVolume selects how CommMatrix measures communication.
type CommVolume uint8

const (
	// CountVolume counts messages.
	CountVolume CommVolume = iota
	// SizeVolume sums message sizes; sends without a size attribute are
	// skipped.
	SizeVolume
)

// CommMatrix aggregates the trace's messages into a process-to-process
// volume matrix: rows are senders and columns receivers, both indexed by
// the position of the process id in t.Processes().  Sends without a
// resolvable receive are skipped.
func CommMatrix(t *trace.Trace, cfg CommConfig, volume CommVolume) [][]int64 {
	procs := t.Processes()
	pos := make(map[int]int, len(procs))
	for i, p := range procs {
		pos[p] = i
	}
	matrix := make([][]int64, len(procs))
	for i := range matrix {
		matrix[i] = make([]int64, len(procs))
	}
	for idx := 0; idx < t.NumEvents(); idx++ {
		ev := t.At(idx)
		if ev.Kind != trace.Instant || ev.Name != cfg.SendName {
			continue
		}
		partner, ok := ev.Attrs.Int(cfg.MatchKey)
		if !ok || partner < 0 || int(partner) >= t.NumEvents() {
			continue
		}
		receiver := pos[t.At(int(partner)).Process]
		switch volume {
		case SizeVolume:
			size, ok := ev.Attrs.Int(cfg.SizeKey)
			if !ok {
				continue
			}
			matrix[pos[ev.Process]][receiver] += size
		default:
			matrix[pos[ev.Process]][receiver]++
		}
	}
	return matrix
}

// MessageBin is one bucket of a message-size histogram, covering sizes in
// [Start, End); the final bucket of a histogram is closed at both ends.
type MessageBin struct {
	Start, End int64
	Count      int
}

// MessageHistogram splits the observed send message sizes into bins buckets
// of equal width and counts the messages falling into each.  Returns nil
// when the trace carries no sized sends or the bin count is not positive.
func MessageHistogram(t *trace.Trace, cfg CommConfig, bins int) []MessageBin {
	if bins <= 0 {
		return nil
	}
	var sizes []int64
	for idx := 0; idx < t.NumEvents(); idx++ {
		ev := t.At(idx)
		if ev.Kind != trace.Instant || ev.Name != cfg.SendName {
			continue
		}
		if size, ok := ev.Attrs.Int(cfg.SizeKey); ok {
			sizes = append(sizes, size)
		}
	}
	if len(sizes) == 0 {
		return nil
	}
	min, max := sizes[0], sizes[0]
	for _, s := range sizes[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	width := (max - min) / int64(bins)
	if width <= 0 {
		width = 1
	}
	out := make([]MessageBin, bins)
	for b := range out {
		out[b].Start = min + int64(b)*width
		out[b].End = out[b].Start + width
	}
	// The final bucket absorbs rounding slack and is closed at max.
	out[bins-1].End = max
	for _, s := range sizes {
		b := int((s - min) / width)
		if b >= bins {
			b = bins - 1
		}
		out[b].Count++
	}
	return out
}
