package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"prism-board/domain"
)

// Settings are the board options a board file may carry. Unset fields keep the
// configured value.
type Settings struct {
	History      *bool  `json:"history,omitempty"`
	Rows         *bool  `json:"rows,omitempty"`
	StrictLimits *bool  `json:"strictLimits,omitempty"`
	User         string `json:"user,omitempty"`
}

// BoardFile is the YAML representation of a board.
//
//	settings:
//	  rows: true
//	columns:
//	  - {id: todo, label: To do, limit: 3}
//	cards:
//	  - {id: c1, label: Write docs, column: todo, start_date: 2024-03-01}
type BoardFile struct {
	Settings Settings        `json:"settings"`
	Columns  []domain.Column `json:"columns"`
	Rows     []domain.Row    `json:"rows"`
	Cards    []domain.Card   `json:"cards"`
	Links    []domain.Link   `json:"links"`
}

// LoadBoardFile reads and validates a board file.
func LoadBoardFile(path string) (*BoardFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := ParseBoardFile(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseBoardFile decodes YAML into a board file. Entities reuse their JSON field names.
func ParseBoardFile(raw []byte) (*BoardFile, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return &BoardFile{}, nil
	}
	if err := normaliseDates(doc); err != nil {
		return nil, err
	}
	js, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	var f BoardFile
	if err := sonic.Unmarshal(js, &f); err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// normaliseDates rewrites the plain dates YAML users write into RFC 3339.
func normaliseDates(doc map[string]any) error {
	cards, _ := doc["cards"].([]any)
	for _, item := range cards {
		card, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if err := normaliseFields(card, "start_date", "end_date"); err != nil {
			return fmt.Errorf("card %v: %w", card["id"], err)
		}
		comments, _ := card["comments"].([]any)
		for _, c := range comments {
			if comment, ok := c.(map[string]any); ok {
				if err := normaliseFields(comment, "date"); err != nil {
					return fmt.Errorf("card %v: comment: %w", card["id"], err)
				}
			}
		}
	}
	return nil
}

func normaliseFields(m map[string]any, fields ...string) error {
	for _, field := range fields {
		v, ok := m[field]
		if !ok || v == nil {
			continue
		}
		t, err := domain.ParseDate(v)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		m[field] = t.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

func (f *BoardFile) validate() error {
	columns := make(map[string]bool, len(f.Columns))
	for i, c := range f.Columns {
		if c.ID == "" {
			return fmt.Errorf("column %d: missing id", i)
		}
		if columns[c.ID] {
			return fmt.Errorf("column %s: duplicate id", c.ID)
		}
		columns[c.ID] = true
	}
	rows := make(map[string]bool, len(f.Rows))
	for i, r := range f.Rows {
		if r.ID == "" {
			return fmt.Errorf("row %d: missing id", i)
		}
		rows[r.ID] = true
	}
	cards := make(map[string]bool, len(f.Cards))
	for i, c := range f.Cards {
		if c.ID == "" {
			return fmt.Errorf("card %d: missing id", i)
		}
		if !columns[c.Column] {
			return fmt.Errorf("card %s: unknown column %q", c.ID, c.Column)
		}
		if c.Row != "" && !rows[c.Row] {
			return fmt.Errorf("card %s: unknown row %q", c.ID, c.Row)
		}
		cards[c.ID] = true
	}
	for i, l := range f.Links {
		if l.ID == "" {
			return fmt.Errorf("link %d: missing id", i)
		}
		if !cards[l.MasterID] || !cards[l.SlaveID] {
			return fmt.Errorf("link %s: unknown card", l.ID)
		}
	}
	return nil
}

// Snapshot returns the board content of the file.
func (f *BoardFile) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		Cards:   f.Cards,
		Columns: f.Columns,
		Rows:    f.Rows,
		Links:   f.Links,
	}
}

// EncodeBoardFile renders a snapshot as YAML.
func EncodeBoardFile(snap domain.Snapshot, s Settings) ([]byte, error) {
	f := BoardFile{
		Settings: s,
		Columns:  snap.Columns,
		Rows:     snap.Rows,
		Cards:    snap.Cards,
		Links:    snap.Links,
	}
	js, err := sonic.Marshal(f)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := sonic.Unmarshal(js, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}
