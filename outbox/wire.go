package outbox

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

var errNotReady = errors.New("temporary id not resolved")

// ToWire converts a command payload into the generic JSON object the queue rewrites.
func ToWire(v any) (map[string]any, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type corrector struct {
	pool  *Pool
	own   string
	evict bool
}

// correctID returns a copy of data with every resolvable temporary id replaced by its
// confirmed id. The own id of a create is kept until it resolves. errNotReady reports
// a reference that cannot be resolved yet.
func correctID(data map[string]any, own string, pool *Pool, evict bool) (map[string]any, error) {
	c := corrector{pool: pool, own: own, evict: evict}
	out, err := c.value(data)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	return m, nil
}

func (c corrector) value(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return c.id(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			fixed, err := c.value(item)
			if err != nil {
				return nil, err
			}
			out[k] = fixed
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			fixed, err := c.value(item)
			if err != nil {
				return nil, err
			}
			out[i] = fixed
		}
		return out, nil
	}
	return v, nil
}

func (c corrector) id(s string) (string, error) {
	if !domain.IsTempID(s) {
		return s, nil
	}
	if confirmed, ok := c.pool.GetID(s); ok {
		return confirmed, nil
	}
	if s == c.own {
		return s, nil
	}
	if c.evict && c.pool.hasFailed(s) {
		return "", fmt.Errorf("%w: %s", ErrDependencyFailed, s)
	}
	return "", errNotReady
}
