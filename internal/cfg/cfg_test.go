package cfg

import (
	"testing"

	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

func graph(n int, edges ...[2]int) *Graph {
	g := New(n)
	for _, e := range edges {
		g.AddEdge(e[0], e[1])
	}
	return g
}

// diamond with a back-edge: 0 -> 1, 0 -> 2, 1 -> 3, 2 -> 3, 3 -> 0
func TestDominatorsDiamond(t *testing.T) {
	g := graph(5, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 3}, [2]int{2, 3}, [2]int{3, 0})
	d := g.Dominators()
	require.Equal(t, -1, d.IDom(0))
	require.Equal(t, 0, d.IDom(1))
	require.Equal(t, 0, d.IDom(2))
	require.Equal(t, 0, d.IDom(3))
	require.True(t, d.Dominates(0, 3))
	require.True(t, d.Dominates(3, 3))
	require.False(t, d.Dominates(1, 3))
	require.False(t, d.IsReachable(4))
	require.Equal(t, -1, d.IDom(4))
	require.False(t, d.Dominates(0, 4))
	require.Equal(t, []int{2, 1, 3, 0}, d.PostOrder())
}

func TestDominatorsChain(t *testing.T) {
	g := graph(4, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 3}, [2]int{1, 3})
	d := g.Dominators()
	require.Equal(t, 1, d.IDom(2))
	require.Equal(t, 1, d.IDom(3))
	require.Equal(t, []int{1, 2, 3}, d.Subtree(1))
}

func TestReversePostOrder(t *testing.T) {
	g := graph(4, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 3}, [2]int{2, 3})
	require.Equal(t, []int{3, 1, 2, 0}, g.PostOrder())
	require.Equal(t, []int{0, 2, 1, 3}, g.ReversePostOrder())
	require.Equal(t, []bool{true, true, true, true}, g.Reachable())
}

func TestSCCs(t *testing.T) {
	// 0 -> 1 <-> 2 -> 3, 3 -> 3
	g := graph(4, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 1}, [2]int{2, 3}, [2]int{3, 3})
	comps := g.SCCs()
	require.Equal(t, [][]int{{3}, {1, 2}, {0}}, comps)
	require.True(t, g.IsCyclic(comps[0]))
	require.True(t, g.IsCyclic(comps[1]))
	require.False(t, g.IsCyclic(comps[2]))

	sub := g.Subgraph([]int{1, 2}, 2)
	require.Equal(t, 1, sub.Entry)
	require.Equal(t, []int{1}, sub.Nodes[0].Successors)
}

func TestFromContainer(t *testing.T) {
	m := &typesys.Method{Name: "M", IsStatic: true}
	f := il.NewFunction(m)
	body := f.NewContainer(il.ContainerNormal, typesys.Void)
	b0, b1, b2 := f.NewBlock(0), f.NewBlock(2), f.NewBlock(4)
	f.AppendChild(body, b0)
	f.AppendChild(body, b1)
	f.AppendChild(body, b2)
	f.SetBody(body)
	f.AppendChild(b0, f.NewIf(f.NewLdcI4(1), f.NewBranch(b2), il.None))
	f.AppendChild(b0, f.NewBranch(b1))
	f.AppendChild(b1, f.NewBranch(b2))
	f.AppendChild(b2, f.NewLeave(body, il.None))

	g := FromContainer(f, body)
	require.Equal(t, []int{2, 1}, g.Nodes[0].Successors)
	require.Equal(t, []int{0, 1}, g.Nodes[2].Predecessors)
	i, ok := g.IndexOf(b1)
	require.True(t, ok)
	require.Equal(t, 1, i)
	require.Equal(t, 0, g.Dominators().IDom(2))
}
