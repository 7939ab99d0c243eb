package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"graphversioner/internal/blob"
	"graphversioner/internal/core"
	"graphversioner/pkg/domain"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

type stateView struct {
	ID         domain.NodeID  `json:"id" yaml:"id"`
	Labels     []string       `json:"labels" yaml:"labels"`
	Properties map[string]any `json:"properties" yaml:"properties"`
	Since      int64          `json:"since" yaml:"since"`
}

type intervalView struct {
	ID      domain.EdgeID `json:"id" yaml:"id"`
	State   domain.NodeID `json:"state" yaml:"state"`
	Start   int64         `json:"start" yaml:"start"`
	End     *int64        `json:"end,omitempty" yaml:"end,omitempty"`
	Context string        `json:"context,omitempty" yaml:"context,omitempty"`
}

type updateView struct {
	State          domain.NodeID  `json:"state" yaml:"state"`
	Previous       *domain.NodeID `json:"previous,omitempty" yaml:"previous,omitempty"`
	Timestamp      int64          `json:"timestamp" yaml:"timestamp"`
	ClosedInterval bool           `json:"closed_interval" yaml:"closed_interval"`
}

type initView struct {
	Entity    domain.NodeID `json:"entity" yaml:"entity"`
	State     domain.NodeID `json:"state" yaml:"state"`
	Interval  domain.EdgeID `json:"interval" yaml:"interval"`
	Timestamp int64         `json:"timestamp" yaml:"timestamp"`
}

type retagView struct {
	State          domain.NodeID `json:"state" yaml:"state"`
	Interval       domain.EdgeID `json:"interval" yaml:"interval"`
	ClosedPrevious bool          `json:"closed_previous" yaml:"closed_previous"`
	Timestamp      int64         `json:"timestamp" yaml:"timestamp"`
}

type entityView struct {
	Entity domain.NodeID `json:"entity" yaml:"entity"`
}

type archiveView struct {
	Key    string            `json:"key" yaml:"key"`
	Size   int64             `json:"size" yaml:"size"`
	Driver string            `json:"driver" yaml:"driver"`
	Meta   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type restoreView struct {
	Key   string `json:"key" yaml:"key"`
	Nodes int    `json:"nodes" yaml:"nodes"`
	Edges int    `json:"edges" yaml:"edges"`
}

func newStateView(node domain.Node, since int64) stateView {
	labels := make([]string, len(node.Labels))
	for i, l := range node.Labels {
		labels[i] = string(l)
	}
	return stateView{ID: node.ID, Labels: labels, Properties: node.Properties.Map(), Since: since}
}

func newIntervalViews(intervals []core.Interval) []intervalView {
	out := make([]intervalView, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, intervalView{ID: iv.EdgeID, State: iv.StateID, Start: iv.Start, End: iv.End, Context: iv.Context})
	}
	return out
}

func newArchiveView(info blob.Info, driver blob.Driver) archiveView {
	return archiveView{Key: info.Key, Size: info.Size, Driver: string(driver), Meta: info.Metadata}
}

func validateFormat(format string) error {
	switch strings.ToLower(format) {
	case formatJSON, formatYAML:
		return nil
	default:
		return usageError{fmt.Errorf("unknown output format %q (want json or yaml)", format)}
	}
}

func render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}
