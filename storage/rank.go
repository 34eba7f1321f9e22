package storage

const rankStep = 1024

// Place returns the rank that puts item id right before the item before, or last when
// before is empty or unknown. items must be ordered. When the neighbours leave no
// gap, every other item is renumbered and the ones whose rank changed are returned
// in rebalanced; callers must store them.
func Place(items []Item, id, before string) (rank float64, rebalanced []Item) {
	others := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			others = append(others, it)
		}
	}
	idx := len(others)
	if before != "" {
		for i, it := range others {
			if it.ID == before {
				idx = i
				break
			}
		}
	}

	if idx == len(others) {
		if len(others) == 0 {
			return rankStep, nil
		}
		return others[len(others)-1].Rank + rankStep, nil
	}

	next := others[idx].Rank
	prev := next - 2*rankStep
	if idx > 0 {
		prev = others[idx-1].Rank
	}
	rank = prev + (next-prev)/2
	if prev < rank && rank < next {
		return rank, nil
	}

	for i, it := range others {
		want := float64(i+1) * rankStep
		if i >= idx {
			want += rankStep
		}
		if it.Rank != want {
			it.Rank = want
			rebalanced = append(rebalanced, it)
		}
	}
	return float64(idx+1) * rankStep, rebalanced
}
