package fx_test

import (
	"testing"

	"github.com/born-ml/ucp/internal/fx"
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(nodes []*fx.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func matrix(t *testing.T, vals ...float32) *tensor.RawTensor {
	t.Helper()
	x, err := tensor.FromFloat32(vals, tensor.Shape{2, 2})
	require.NoError(t, err)
	return x
}

// symGraph computes x + x^T.
func symGraph() (g *fx.Graph, x, xt, sum *fx.Node) {
	g = fx.NewGraph()
	x = g.Placeholder("x")
	xt = g.CallFunction(fx.Transpose, []*fx.Node{x}, "")
	sum = g.CallFunction(fx.Add, []*fx.Node{x, xt}, "")
	g.Output(sum)
	return g, x, xt, sum
}

func TestAddPostprocessRewiresUsers(t *testing.T) {
	g, x, xt, sum := symGraph()

	post := fx.AddPostprocess(g, x, fx.Clone, "x_post")
	require.NoError(t, g.Lint())

	if diff := cmp.Diff([]string{"x", "x_post", "aten_t", "aten_add", "output"}, names(g.Nodes())); diff != "" {
		t.Errorf("node order (-want +got):\n%s", diff)
	}
	assert.Equal(t, []*fx.Node{x}, post.Args)
	assert.Equal(t, []*fx.Node{post}, x.Users())
	assert.Equal(t, []*fx.Node{post}, xt.Args)
	assert.Equal(t, []*fx.Node{post, xt}, sum.Args)
	assert.Equal(t, []*fx.Node{xt, sum}, post.Users())

	out, err := fx.NewInterpreter(g).Run(matrix(t, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 5, 5, 8}, out.AsFloat32())
}

func TestAddPostprocessOnResult(t *testing.T) {
	g, _, _, sum := symGraph()
	post := fx.AddPostprocess(g, sum, fx.Transpose, "")
	require.NoError(t, g.Lint())

	out, err := fx.OutputNode(g)
	require.NoError(t, err)
	assert.Equal(t, []*fx.Node{post}, out.Args)
	assert.Equal(t, "aten_t_1", post.Name)
	assert.Equal(t, []*fx.Node{post}, sum.Users())
}

func TestInsertingAfterKeepsOrder(t *testing.T) {
	g, x, _, _ := symGraph()
	restore := g.InsertingAfter(x)
	g.CallFunction(fx.Clone, []*fx.Node{x}, "first")
	g.CallFunction(fx.Clone, []*fx.Node{x}, "second")
	restore()
	g.CallFunction(fx.Clone, []*fx.Node{x}, "last")

	want := []string{"x", "first", "second", "aten_t", "aten_add", "output", "last"}
	if diff := cmp.Diff(want, names(g.Nodes())); diff != "" {
		t.Errorf("node order (-want +got):\n%s", diff)
	}
}

func TestEraseNode(t *testing.T) {
	g, x, _, _ := symGraph()
	assert.Error(t, g.EraseNode(x))

	dead := g.CallFunction(fx.Clone, []*fx.Node{x}, "dead")
	require.NoError(t, g.EraseNode(dead))
	assert.Nil(t, dead.Graph())
	assert.NotContains(t, x.Users(), dead)
	assert.Equal(t, 4, g.Len())
	require.NoError(t, g.Lint())
}

func TestLintCatchesUseBeforeDefinition(t *testing.T) {
	g, _, xt, sum := symGraph()
	xt.Args = []*fx.Node{sum}
	assert.Error(t, g.Lint())
}

func TestOutputNodeMissing(t *testing.T) {
	_, err := fx.OutputNode(fx.NewGraph())
	assert.Error(t, err)
}

func TestAddDependencyOnParams(t *testing.T) {
	g := fx.NewGraph()
	w1 := g.Placeholder("w1")
	w2 := g.Placeholder("w2")
	x := g.Placeholder("x")
	t1 := g.CallFunction(fx.Transpose, []*fx.Node{w1}, "t1")
	t2 := g.CallFunction(fx.Transpose, []*fx.Node{t1}, "t2")
	g.CallFunction(fx.Add, []*fx.Node{x, t2}, "a")
	c := g.CallFunction(fx.Clone, []*fx.Node{w2}, "c")
	xt := g.CallFunction(fx.Transpose, []*fx.Node{x}, "xt")
	d := g.CallFunction(fx.Add, []*fx.Node{c, xt}, "d")
	g.Output(d)

	fx.AddDependencyOnParams(g, []*fx.Node{w1, w2})

	got := make(map[string][]string)
	for _, n := range g.Nodes() {
		got[n.Name] = names(n.RequiredInputs)
	}
	want := map[string][]string{
		"w1":     nil,
		"w2":     nil,
		"x":      nil,
		"t1":     {"w1"},
		"t2":     {"w1"},
		"a":      {"w1"},
		"c":      {"w2"},
		"xt":     nil,
		"d":      nil,
		"output": nil,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("required inputs (-want +got):\n%s", diff)
	}
}

func TestParamLifetimeTracer(t *testing.T) {
	tr := fx.NewParamLifetimeTracer()
	w := tr.Placeholder("w")
	wt := tr.CallFunction(fx.Transpose, []*fx.Node{w}, "wt")
	wtt := tr.CallFunction(fx.Transpose, []*fx.Node{wt}, "wtt")
	wt2 := tr.CallFunction(fx.Transpose, []*fx.Node{w}, "wt2")
	sum := tr.CallFunction(fx.Add, []*fx.Node{wtt, wt2}, "sum")
	tr.Output(sum)
	require.NoError(t, tr.Graph.Lint())

	assert.Equal(t, []*fx.Node{wt, wt2}, tr.Aliases(w))
	assert.Empty(t, tr.Aliases(sum))

	if diff := cmp.Diff([]string{"wtt", "wt", "wt2", "w"}, names(tr.CheckLifetime(w))); diff != "" {
		t.Errorf("visit order (-want +got):\n%s", diff)
	}

	out, err := fx.NewInterpreter(tr.Graph).Run(matrix(t, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 5, 5, 8}, out.AsFloat32())
}

func TestInterpreterErrors(t *testing.T) {
	g, _, _, _ := symGraph()
	it := fx.NewInterpreter(g)

	_, err := it.Run()
	assert.Error(t, err)

	_, err = it.RunNamed(map[string]*tensor.RawTensor{"y": matrix(t, 1, 2, 3, 4)})
	assert.Error(t, err)

	bad, err := tensor.FromFloat32([]float32{1, 2, 3}, tensor.Shape{3})
	require.NoError(t, err)
	_, err = it.Run(bad)
	assert.Error(t, err)
}
