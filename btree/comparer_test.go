package btree

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
)

// cmpWrapper implements Comparer for testing the Comparer path in Compare.
type cmpWrapper int

func (c cmpWrapper) Compare(other any) int {
	o, _ := other.(cmpWrapper)
	switch {
	case c < o:
		return -1
	case c > o:
		return 1
	}
	return 0
}

func TestCompare(t *testing.T) {
	t1 := time.Now()
	u1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	u2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	cases := []struct {
		name string
		x, y any
		want int
	}{
		{"int", 1, 2, -1},
		{"int equal", 2, 2, 0},
		{"int64", int64(5), int64(3), 1},
		{"uint16", uint16(1), uint16(9), -1},
		{"float64", 1.5, 1.25, 1},
		{"string", "a", "b", -1},
		{"oid", odb.NewOID(1, 9), odb.NewOID(2, 1), -1},
		{"uuid", u2, u1, 1},
		{"odb uuid", odb.UUID(u1), odb.UUID(u1), 0},
		{"time", t1, t1.Add(time.Second), -1},
		{"nil nil", nil, nil, 0},
		{"nil first", nil, 1, -1},
		{"comparer", cmpWrapper(3), cmpWrapper(1), 1},
		{"string form", struct{ A int }{1}, struct{ A int }{2}, -1},
	}
	for _, tt := range cases {
		assert.Equal(t, tt.want, Compare(tt.x, tt.y), tt.name)
	}
}

func TestNaturalComparer(t *testing.T) {
	c := NaturalComparer[string]()
	assert.Negative(t, c("apple", "banana"))
	assert.Zero(t, c("kiwi", "kiwi"))
}

func TestCELComparer(t *testing.T) {
	c, err := NewCELComparer("mapX['age'] < mapY['age'] ? -1 : mapX['age'] > mapY['age'] ? 1 : 0")
	require.NoError(t, err)
	assert.Equal(t, -1, c(map[string]any{"age": 20}, map[string]any{"age": 30}))
	assert.Equal(t, 0, c(map[string]any{"age": 20}, map[string]any{"age": 20}))

	// Keys lacking the field fall back to their string form.
	assert.NotPanics(t, func() { c(map[string]any{}, map[string]any{"age": 1}) })

	_, err = NewCELComparer("mapX[")
	assert.Error(t, err)
}
