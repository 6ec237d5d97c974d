// Copyright 2024 Parallel Software and Systems Group, University of
// Maryland. See the top-level LICENSE file for details.
//
// SPDX-License-Identifier: MIT

// Package pipeline assembles the full analysis over a normalized trace:
// enter/leave matching, calling-context-tree construction, time metrics,
// and (when configured) partition/leap analysis.  The result bundles every
// derived column the query, plotting, and writer collaborators consume.
//
// Per-stream matching runs concurrently; the calling-context merge and the
// partition analysis are single-writer sequential phases, per the
// construction-time invariants of those packages.  All configuration is
// carried in an explicit Config; the pipeline keeps no process-wide mutable
// state.
package pipeline

import (
	"context"

	"github.com/hpcgroup/pipit-sub000/cct"
	"github.com/hpcgroup/pipit-sub000/match"
	"github.com/hpcgroup/pipit-sub000/metrics"
	"github.com/hpcgroup/pipit-sub000/partition"
	"github.com/hpcgroup/pipit-sub000/trace"
)

// Config configures an analysis run.
type Config struct {
	// Partition, when non-nil, enables partition/leap analysis with the
	// provided options.
	Partition *partition.Options
}

// DefaultConfig returns a Config running the full analysis with default
// partition options.
func DefaultConfig() Config {
	opts := partition.DefaultOptions()
	return Config{Partition: &opts}
}

// Analysis bundles a trace with every derived column and structure
// produced by a run.
type Analysis struct {
	Trace   *trace.Trace
	Match   *match.Result
	Metrics *metrics.Result
	Graph   *cct.Graph
	// Nodes holds each event's calling-context node.
	Nodes []cct.NodeID
	// Partition is nil unless partition analysis was configured.
	Partition *partition.Result
	// Anomalies accumulates all per-event anomalies observed during the
	// run, in ascending event order per source phase (matching first, then
	// metrics).
	Anomalies []trace.Anomaly
}

// Analyze runs the configured analysis over the provided trace.  Per-event
// anomalies are accumulated in the returned Analysis; structural errors
// (input ordering violations, partition graph inconsistencies) abort the
// run with a typed error and no partial result.
func Analyze(ctx context.Context, t *trace.Trace, cfg Config) (*Analysis, error) {
	m, err := match.Events(ctx, t)
	if err != nil {
		return nil, err
	}
	graph, nodes := cct.Build(t, m)
	mx := metrics.Compute(t, m)
	a := &Analysis{
		Trace:   t,
		Match:   m,
		Metrics: mx,
		Graph:   graph,
		Nodes:   nodes,
	}
	a.Anomalies = append(a.Anomalies, m.Anomalies...)
	a.Anomalies = append(a.Anomalies, mx.Anomalies...)
	if cfg.Partition != nil {
		p, err := partition.Analyze(t, m, *cfg.Partition)
		if err != nil {
			return nil, err
		}
		a.Partition = p
	}
	return a, nil
}
