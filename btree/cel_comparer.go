package btree

import (
	"cmp"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/odb/cel"
)

// NewCELComparer returns a comparer for map shaped keys ordered by a CEL expression over
// mapX and mapY, e.g. "mapX['age'] < mapY['age'] ? -1 : mapX['age'] > mapY['age'] ? 1 : 0".
// Keys the expression can't evaluate fall back to comparing their string form.
func NewCELComparer(expression string) (ComparerFunc[map[string]any], error) {
	e, err := cel.NewEvaluator("comparer", expression)
	if err != nil {
		return nil, err
	}
	return func(a, b map[string]any) int {
		r, err := e.Evaluate(a, b)
		if err != nil {
			log.Warn("CEL key comparer failed, comparing string forms", "error", err)
			return cmp.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
		}
		return r
	}, nil
}
