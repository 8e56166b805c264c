package scheduler

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/a2aflow/pkg/domain"
)

func steps(ids ...string) []domain.Step {
	out := make([]domain.Step, len(ids))
	for i, id := range ids {
		out[i] = domain.Step{ID: id, Agent: "agent", Method: "m"}
	}
	return out
}

func TestSchedule_Empty(t *testing.T) {
	order, dropped, err := Schedule(&domain.Graph{})
	require.NoError(t, err)
	assert.Empty(t, order)
	assert.Empty(t, dropped)
}

func TestSchedule_Chain(t *testing.T) {
	g := &domain.Graph{
		Steps: steps("c", "b", "a"),
		Edges: []domain.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}
	order, _, err := Schedule(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSchedule_DeclarationOrderBreaksTies(t *testing.T) {
	g := &domain.Graph{
		Steps: steps("x", "y", "z"),
	}
	order, _, err := Schedule(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, order)
}

func TestSchedule_NextLinkBecomesEdge(t *testing.T) {
	g := &domain.Graph{Steps: []domain.Step{
		{ID: "second", Agent: "a", Method: "m"},
		{ID: "first", Agent: "a", Method: "m", Next: "second"},
	}}
	order, _, err := Schedule(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSchedule_DropsUnknownEdges(t *testing.T) {
	g := &domain.Graph{
		Steps: steps("a", "b"),
		Edges: []domain.Edge{
			{From: "a", To: "b"},
			{From: "a", To: "ghost"},
			{From: "phantom", To: "b"},
		},
	}
	order, dropped, err := Schedule(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	require.Len(t, dropped, 2)
	assert.Equal(t, "unknown target", dropped[0].Reason)
	assert.Equal(t, "unknown source", dropped[1].Reason)
}

func TestSchedule_Cycle(t *testing.T) {
	g := &domain.Graph{
		Steps: steps("start", "a", "b", "after"),
		Edges: []domain.Edge{
			{From: "start", To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
			{From: "b", To: "after"},
		},
	}
	order, _, err := Schedule(g)
	assert.Nil(t, order)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.True(t, errors.Is(err, ErrCycle))
	assert.Equal(t, []string{"a", "b", "after"}, cycleErr.Steps)
}

func TestSchedule_SelfLoop(t *testing.T) {
	g := &domain.Graph{
		Steps: steps("a"),
		Edges: []domain.Edge{{From: "a", To: "a"}},
	}
	_, _, err := Schedule(g)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a"}, cycleErr.Steps)
}

func TestSchedule_DuplicateIDs(t *testing.T) {
	_, _, err := Schedule(&domain.Graph{Steps: steps("a", "a")})
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

// randomDAG builds a DAG whose edges always point from a lower to a higher
// rank, with steps declared in shuffled order.
func randomDAG(n int, seed int64) (*domain.Graph, []string) {
	r := rand.New(rand.NewSource(seed))
	ranked := make([]string, n)
	for i := range ranked {
		ranked[i] = fmt.Sprintf("s%d", i)
	}

	g := &domain.Graph{}
	for _, i := range r.Perm(n) {
		g.Steps = append(g.Steps, domain.Step{ID: ranked[i]})
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if r.Intn(3) == 0 {
				g.Edges = append(g.Edges, domain.Edge{From: ranked[i], To: ranked[j]})
			}
		}
	}
	return g, ranked
}

func reachable(g *domain.Graph, from string) map[string]bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.Edges {
			if e.From == cur && !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return seen
}

func TestProperty_ScheduleRespectsEdges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("schedule is a permutation honouring every edge", prop.ForAll(
		func(n int, seed int64) bool {
			g, _ := randomDAG(n, seed)
			order, _, err := Schedule(g)
			if err != nil || len(order) != n {
				return false
			}

			pos := make(map[string]int, n)
			for i, id := range order {
				if _, dup := pos[id]; dup {
					return false
				}
				pos[id] = i
			}
			for _, s := range g.Steps {
				if _, ok := pos[s.ID]; !ok {
					return false
				}
			}
			for _, e := range g.Edges {
				if pos[e.From] >= pos[e.To] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.Int64(),
	))

	properties.Property("a back edge rejects exactly the unschedulable steps", prop.ForAll(
		func(n int, seed int64) bool {
			g, ranked := randomDAG(n, seed)
			r := rand.New(rand.NewSource(seed + 1))
			i := r.Intn(n - 1)
			j := i + 1 + r.Intn(n-i-1)
			g.Edges = append(g.Edges,
				domain.Edge{From: ranked[i], To: ranked[j]},
				domain.Edge{From: ranked[j], To: ranked[i]},
			)

			_, _, err := Schedule(g)
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				return false
			}

			want := reachable(g, ranked[i])
			expected := make([]string, 0, len(want))
			for id := range want {
				expected = append(expected, id)
			}
			got := append([]string(nil), cycleErr.Steps...)
			sort.Strings(expected)
			sort.Strings(got)
			return fmt.Sprint(expected) == fmt.Sprint(got)
		},
		gen.IntRange(2, 20),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
