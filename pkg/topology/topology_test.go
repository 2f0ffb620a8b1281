package topology

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roster(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("n%d", i)
	}
	return out
}

func TestInitializeMesh(t *testing.T) {
	id, neighbors, err := Initialize("n1", []string{"n1", "n2", "n3"}, Mesh{})
	require.NoError(t, err)

	assert.Equal(t, "n1", id.ID)
	assert.Equal(t, []string{"n1", "n2", "n3"}, id.Roster)
	assert.Equal(t, []string{"n2", "n3"}, neighbors)
}

func TestInitializeRejectsBadRoster(t *testing.T) {
	tests := []struct {
		name   string
		self   string
		roster []string
	}{
		{"self missing", "n9", []string{"n1", "n2"}},
		{"empty roster", "n1", nil},
		{"duplicate", "n1", []string{"n1", "n2", "n2"}},
		{"empty id", "n1", []string{"n1", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Initialize(tt.self, tt.roster, Mesh{})
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.self, cfgErr.Self)
		})
	}
}

func TestInitializeCopiesRoster(t *testing.T) {
	r := []string{"n1", "n2"}
	id, _, err := Initialize("n1", r, Mesh{})
	require.NoError(t, err)

	r[1] = "changed"
	assert.Equal(t, []string{"n1", "n2"}, id.Roster)
}

func TestRingSampleIncludesRingLinks(t *testing.T) {
	ids := roster(25)
	ring := NewRing(nil, ids...)

	for _, self := range []string{"n0", "n7", "n24"} {
		p := RingSample{Extra: 2, Rand: NewSource(1)}
		_, neighbors, err := Initialize(self, ids, p)
		require.NoError(t, err)

		pred, succ, _ := ring.Adjacent(self)
		assert.Contains(t, neighbors, pred)
		assert.Contains(t, neighbors, succ)
		assert.NotContains(t, neighbors, self)
		assert.Len(t, neighbors, 4)
	}
}

func TestRingSampleSmallClusters(t *testing.T) {
	p := RingSample{Extra: 2, Rand: NewSource(1)}

	_, neighbors, err := Initialize("n0", []string{"n0"}, p)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	// pred and succ are the same node
	_, neighbors, err = Initialize("n0", []string{"n0", "n1"}, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, neighbors)
}

func TestRandomSubset(t *testing.T) {
	ids := roster(25)
	p := RandomSubset{Size: 9, Rand: NewSource(42)}

	_, neighbors, err := Initialize("n3", ids, p)
	require.NoError(t, err)
	assert.Len(t, neighbors, 9)
	assert.NotContains(t, neighbors, "n3")

	// deterministic for the same seed
	_, again, err := Initialize("n3", ids, RandomSubset{Size: 9, Rand: NewSource(42)})
	require.NoError(t, err)
	assert.Equal(t, neighbors, again)

	// capped by the roster
	_, all, err := Initialize("n0", roster(4), RandomSubset{Size: 9, Rand: NewSource(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2", "n3"}, all)
}

func TestNewPolicy(t *testing.T) {
	src := NewSource(1)
	for _, name := range []string{"", "mesh", "ring", "random"} {
		p, err := NewPolicy(name, 3, src)
		require.NoError(t, err, name)
		if name != "" {
			assert.Equal(t, name, p.Name())
		}
	}

	_, err := NewPolicy("star", 3, src)
	assert.Error(t, err)
}

func TestNilSourceFallsBackToClock(t *testing.T) {
	ids := roster(5)
	for _, name := range []string{"ring", "random"} {
		p, err := NewPolicy(name, 2, nil)
		require.NoError(t, err, name)

		var neighbors []string
		require.NotPanics(t, func() {
			_, neighbors, err = Initialize("n1", ids, p)
		}, name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, neighbors, name)
		assert.NotContains(t, neighbors, "n1", name)
	}

	// policies built directly, without NewPolicy
	for _, p := range []Policy{RingSample{Extra: 2}, RandomSubset{Size: 2}} {
		require.NotPanics(t, func() {
			_, _, err := Initialize("n1", ids, p)
			assert.NoError(t, err)
		}, p.Name())
	}
}

func TestSampleDistinct(t *testing.T) {
	src := NewSource(9)
	ids := roster(10)

	for k := range 12 {
		got := src.Sample(ids, k)
		assert.Len(t, got, min(k, len(ids)))

		sorted := slices.Clone(got)
		slices.Sort(sorted)
		assert.Equal(t, len(sorted), len(slices.Compact(sorted)), "duplicate in sample %v", got)
	}
	assert.Equal(t, roster(10), ids, "Sample modified its input")
}
