package board

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"prism-board/domain"
	"prism-board/router"
	"prism-board/state"
)

func (b *Board) rules() []router.Rule {
	return []router.Rule{
		{
			Name: sliceCardsMap,
			In:   []string{sliceCards, sliceColumns, sliceRows, sliceSort},
			Out:  []string{sliceCardsMap},
			Exec: b.buildCardsMap,
		},
		{
			Name: sliceAreaMeta,
			In:   []string{sliceCardsMap, sliceColumns},
			Out:  []string{sliceAreaMeta},
			Exec: b.buildAreaMeta,
		},
		{
			Name: sliceSearchResults,
			In:   []string{sliceCards, sliceSearch},
			Out:  []string{sliceSearchResults},
			Exec: buildSearchResults,
		},
	}
}

func (b *Board) buildCardsMap(r *router.Router) {
	s := r.Store()
	cards := state.Value[[]domain.Card](s, sliceCards)
	order := state.Value[Sort](s, sliceSort)

	out := make(map[string][]domain.Card)
	for _, key := range b.areaKeys(s) {
		out[key] = []domain.Card{}
	}
	for _, c := range cards {
		key := b.areaOf(c)
		out[key] = append(out[key], c)
	}
	if order.By != "" {
		less := cardLess(order)
		for _, bucket := range out {
			sort.SliceStable(bucket, func(i, j int) bool { return less(bucket[i], bucket[j]) })
		}
	}
	r.Commit(map[string]any{sliceCardsMap: out})
}

func (b *Board) buildAreaMeta(r *router.Router) {
	s := r.Store()
	cardsMap := state.Value[map[string][]domain.Card](s, sliceCardsMap)
	columns := state.Value[[]domain.Column](s, sliceColumns)

	limits := make(map[string]int)
	for _, c := range columns {
		limits[c.ID] = c.Limit
	}
	owner := b.areaOwners(s)

	out := make(map[string]domain.AreaMeta, len(cardsMap))
	for key, bucket := range cardsMap {
		limit := limits[owner[key]]
		count := len(bucket)
		out[key] = domain.AreaMeta{
			CardsCount:  count,
			Limit:       limit,
			IsOverLimit: limit > 0 && count > limit,
			NoFreeSpace: b.cfg.StrictLimits && limit > 0 && count >= limit,
		}
	}
	r.Commit(map[string]any{sliceAreaMeta: out})
}

func buildSearchResults(r *router.Router) {
	s := r.Store()
	search := state.Value[Search](s, sliceSearch)
	if search.Value == "" {
		r.Commit(map[string]any{sliceSearchResults: []string(nil)})
		return
	}
	by := search.By
	if len(by) == 0 {
		by = []string{"label", "description"}
	}
	needle := strings.ToLower(search.Value)

	out := []string{}
	for _, c := range state.Value[[]domain.Card](s, sliceCards) {
		for _, field := range by {
			if strings.Contains(strings.ToLower(textOf(c, field)), needle) {
				out = append(out, c.ID)
				break
			}
		}
	}
	r.Commit(map[string]any{sliceSearchResults: out})
}

func (b *Board) areaKeys(s *state.Store) []string {
	owner := b.areaOwners(s)
	keys := make([]string, 0, len(owner))
	for k := range owner {
		keys = append(keys, k)
	}
	return keys
}

// areaOwners maps every known area key to the id of its column.
func (b *Board) areaOwners(s *state.Store) map[string]string {
	columns := state.Value[[]domain.Column](s, sliceColumns)
	rows := state.Value[[]domain.Row](s, sliceRows)
	out := make(map[string]string)
	for _, c := range columns {
		if !b.cfg.Rows || len(rows) == 0 {
			out[c.ID] = c.ID
			continue
		}
		for _, row := range rows {
			out[domain.AreaKey(c.ID, row.ID)] = c.ID
		}
	}
	return out
}

func textOf(c domain.Card, field string) string {
	switch field {
	case "label":
		return c.Label
	case "description":
		return c.Description
	case "color":
		return c.Color
	case "id":
		return c.ID
	}
	if v, ok := c.Fields[field]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func cardLess(o Sort) func(a, b domain.Card) bool {
	desc := strings.EqualFold(o.Dir, "desc")
	return func(a, b domain.Card) bool {
		n := compareField(a, b, o.By)
		if desc {
			return n > 0
		}
		return n < 0
	}
}

func compareField(a, b domain.Card, field string) int {
	switch field {
	case "label", "description", "color", "id":
		return strings.Compare(strings.ToLower(textOf(a, field)), strings.ToLower(textOf(b, field)))
	case "priority":
		return compareInt(a.Priority, b.Priority)
	case "progress":
		return compareInt(a.Progress, b.Progress)
	case "start_date":
		return compareTime(a.StartDate, b.StartDate)
	case "end_date":
		return compareTime(a.EndDate, b.EndDate)
	}
	return compareAny(a.Fields[field], b.Fields[field])
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareTime puts missing dates last.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}

func compareAny(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		}
		return -1
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(strings.ToLower(fmt.Sprint(a)), strings.ToLower(fmt.Sprint(b)))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
