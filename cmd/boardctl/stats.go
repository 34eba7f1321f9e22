package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

const (
	requestEventName   = "board.request"
	requestEventDomain = "prism-board"

	attrStatus     = "http.status_code"
	attrRoute      = "http.route"
	attrTotalMs    = "board.request.total_ms"
	attrReplayed   = "board.request.replayed"
	attrEvents     = "board.request.events"
	attrKind       = "board.kind"
	attrErrorStage = "board.request.error_stage"
)

type logRecord struct {
	EventName    string         `json:"event.name"`
	EventDomain  string         `json:"event.domain"`
	SeverityText string         `json:"severity_text"`
	Attributes   map[string]any `json:"attributes"`
}

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

func newNumericStats() *numericStats {
	return &numericStats{Min: math.MaxFloat64}
}

func (n *numericStats) add(v float64) {
	n.Count++
	n.Sum += v
	if v < n.Min {
		n.Min = v
	}
	if v > n.Max {
		n.Max = v
	}
}

type durationSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
}

func (n *numericStats) summary() durationSummary {
	if n == nil || n.Count == 0 {
		return durationSummary{}
	}
	return durationSummary{Count: n.Count, Min: n.Min, Max: n.Max, Avg: n.Sum / float64(n.Count)}
}

type summaryOutput struct {
	TotalEvents    int                        `json:"total_events"`
	SeverityCounts map[string]int             `json:"severity_counts"`
	StatusCounts   map[string]int             `json:"status_counts"`
	KindCounts     map[string]int             `json:"kind_counts,omitempty"`
	DurationMs     map[string]durationSummary `json:"duration_ms"`
	Replayed       int                        `json:"replayed"`
	PushedEvents   int                        `json:"pushed_events"`
	ErrorStages    map[string]int             `json:"error_stages,omitempty"`
	SkippedLines   int                        `json:"skipped_lines"`
}

// collector aggregates the request observability events of board-api JSON logs.
type collector struct {
	total     int
	severity  map[string]int
	status    map[int]int
	kinds     map[string]int
	durations map[string]*numericStats
	replayed  int
	pushed    int
	stages    map[string]int
	skipped   int
}

func newCollector() *collector {
	return &collector{
		severity:  map[string]int{},
		status:    map[int]int{},
		kinds:     map[string]int{},
		durations: map[string]*numericStats{},
		stages:    map[string]int{},
	}
}

func (c *collector) ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	// docker compose prefixes lines with "service |"
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}
	var rec logRecord
	if err := sonic.UnmarshalString(trimmed, &rec); err != nil {
		c.skipped++
		return
	}
	if rec.EventName != requestEventName || rec.EventDomain != requestEventDomain {
		return
	}
	c.add(rec)
}

func (c *collector) add(rec logRecord) {
	c.total++
	sev := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if sev == "" {
		sev = "UNSPECIFIED"
	}
	c.severity[sev]++

	attrs := rec.Attributes
	if v, ok := attrs[attrStatus].(float64); ok {
		c.status[int(v)]++
	}
	if v, ok := attrs[attrTotalMs].(float64); ok {
		c.duration("total", v)
		if route, ok := attrs[attrRoute].(string); ok && route != "" {
			c.duration(route, v)
		}
	}
	if v, ok := attrs[attrReplayed].(bool); ok && v {
		c.replayed++
	}
	if v, ok := attrs[attrEvents].(float64); ok {
		c.pushed += int(v)
	}
	if v, ok := attrs[attrKind].(string); ok && v != "" {
		c.kinds[v]++
	}
	if v, ok := attrs[attrErrorStage].(string); ok && v != "" {
		c.stages[v]++
	}
}

func (c *collector) duration(key string, v float64) {
	s, ok := c.durations[key]
	if !ok {
		s = newNumericStats()
		c.durations[key] = s
	}
	s.add(v)
}

func (c *collector) summary() summaryOutput {
	out := summaryOutput{
		TotalEvents:    c.total,
		SeverityCounts: c.severity,
		StatusCounts:   make(map[string]int, len(c.status)),
		DurationMs:     make(map[string]durationSummary, len(c.durations)),
		Replayed:       c.replayed,
		PushedEvents:   c.pushed,
		SkippedLines:   c.skipped,
	}
	for status, n := range c.status {
		out.StatusCounts[strconv.Itoa(status)] = n
	}
	for key, s := range c.durations {
		out.DurationMs[key] = s.summary()
	}
	if len(c.kinds) > 0 {
		out.KindCounts = c.kinds
	}
	if len(c.stages) > 0 {
		out.ErrorStages = c.stages
	}
	return out
}

func (s summaryOutput) String() string {
	total := s.DurationMs["total"]
	parts := []string{
		"total=" + strconv.Itoa(s.TotalEvents),
		"warn=" + strconv.Itoa(s.SeverityCounts["WARN"]),
		"error=" + strconv.Itoa(s.SeverityCounts["ERROR"]),
		"replayed=" + strconv.Itoa(s.Replayed),
		"avg_total_ms=" + strconv.FormatFloat(total.Avg, 'f', 2, 64),
		"max_total_ms=" + strconv.FormatFloat(total.Max, 'f', 2, 64),
	}
	stages := make([]string, 0, len(s.ErrorStages))
	for stage, n := range s.ErrorStages {
		stages = append(stages, fmt.Sprintf("%s:%d", stage, n))
	}
	sort.Strings(stages)
	if len(stages) > 0 {
		parts = append(parts, "error_stages="+strings.Join(stages, ","))
	}
	return strings.Join(parts, " ")
}

func collect(r io.Reader) (summaryOutput, error) {
	c := newCollector()
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			c.ingest(line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return summaryOutput{}, fmt.Errorf("read logs: %w", err)
		}
	}
	return c.summary(), nil
}

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise request events from board-api JSON logs read on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := collect(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), summary.String())
				return nil
			}
			raw, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full summary as JSON")
	return cmd
}
