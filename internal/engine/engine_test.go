package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/checksum"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/graphdef"
	"github.com/starford/cmmgraph/internal/models"
	"github.com/starford/cmmgraph/internal/testutil"
)

type recorder struct {
	mu      sync.Mutex
	signals []string
	graphs  []string
}

func (r *recorder) PublishSignal(graph, node, signal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, graph+"/"+node+":"+signal)
}

func (r *recorder) PublishGraphEvent(kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs = append(r.graphs, kind+":"+name)
}

func (r *recorder) sawSignal(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.signals {
		if v == s {
			return true
		}
	}
	return false
}

type env struct {
	eng *Engine
	dir string
	pub *recorder
}

func newEnv(t *testing.T, opts ...Option) env {
	t.Helper()
	dir, store := testutil.TestStore(t)
	pub := &recorder{}
	opts = append([]Option{WithPublisher(pub), WithLogger(testutil.Logger())}, opts...)
	eng := New(testutil.TestRuntime(t), store, testutil.TestDB(t), opts...)
	t.Cleanup(eng.Close)
	return env{eng: eng, dir: dir, pub: pub}
}

func (e env) put(t *testing.T, name, doc string) {
	t.Helper()
	_, err := e.eng.PutGraph(context.Background(), name, []byte(doc), "")
	require.NoError(t, err)
}

func TestPutAndListGraphs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sum, err := e.eng.PutGraph(ctx, "proof", []byte(testutil.ProofGraph), "")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Nodes)
	assert.Equal(t, checksum.Sum([]byte(testutil.ProofGraph)), sum.Checksum)

	list, err := e.eng.ListGraphs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "proof", list[0].Name)
	assert.Contains(t, e.pub.graphs, "updated:proof")
}

func TestPutGraph_Invalid(t *testing.T) {
	e := newEnv(t)
	_, err := e.eng.PutGraph(context.Background(), "bad", []byte("nodes: []\n"), "")
	require.ErrorIs(t, err, apperr.ErrInvalid)
	_, statErr := os.Stat(filepath.Join(e.dir, "bad.yaml"))
	assert.True(t, os.IsNotExist(statErr), "invalid definition written to disk")
}

func TestPutGraph_OptimisticLocking(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, "proof", testutil.ProofGraph)

	_, err := e.eng.PutGraph(ctx, "proof", []byte(testutil.ProofGraph), "stale")
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = e.eng.PutGraph(ctx, "proof", []byte(testutil.ProofGraph), checksum.Sum([]byte(testutil.ProofGraph)))
	require.NoError(t, err)

	_, err = e.eng.PutGraph(ctx, "missing", []byte(testutil.ProofGraph), "abc")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReadGraph(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, "proof", testutil.ProofGraph)

	data, sum, err := e.eng.ReadGraph(ctx, "proof")
	require.NoError(t, err)
	assert.Equal(t, testutil.ProofGraph, string(data))
	assert.Equal(t, checksum.Sum(data), sum)

	_, _, err = e.eng.ReadGraph(ctx, "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetGraph(t *testing.T) {
	e := newEnv(t)
	e.put(t, "proof", testutil.ProofGraph)

	d, err := e.eng.GetGraph(context.Background(), "proof")
	require.NoError(t, err)
	require.Len(t, d.Nodes, 3)
	assert.Equal(t, "lcm2", d.Nodes[1].Signature)
	assert.Equal(t, []string{"src.0 -> xfm.0", "xfm.0 -> out.0"}, sortedEdges(d.Edges))

	_, err = e.eng.GetGraph(context.Background(), "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func sortedEdges(in []string) []string {
	out := append([]string(nil), in...)
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func TestGraphText(t *testing.T) {
	e := newEnv(t)
	e.put(t, "proof", testutil.ProofGraph)

	text, err := e.eng.GraphText(context.Background(), "proof")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "digraph G {"))
	assert.Contains(t, text, `label="proof";`)
}

func TestRunGraph(t *testing.T) {
	e := newEnv(t)
	e.put(t, "proof", testutil.ProofGraph)

	res, err := e.eng.RunGraph(context.Background(), "proof", RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Width)
	assert.Equal(t, 2, res.Height)
	assert.Equal(t, 3, res.Channels)
	require.Len(t, res.Data, 12)
	assert.InDelta(t, 11.0/12.0, res.Data[11], 1e-3)
	assert.NotEmpty(t, res.Ticket)

	stats := e.eng.CacheStats()
	assert.Equal(t, int64(1), stats.Builds)

	// A second run reuses the transform context.
	_, err = e.eng.RunGraph(context.Background(), "proof", RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.eng.CacheStats().Builds)
}

func TestRunGraph_Workspace(t *testing.T) {
	e := newEnv(t)
	e.put(t, "proof", testutil.ProofGraph)

	_, err := e.eng.RunGraph(context.Background(), "proof", RunRequest{Workspace: "not-a-uuid"})
	require.Error(t, err)
	_, err = e.eng.RunGraph(context.Background(), "proof", RunRequest{Workspace: "6f1c7f4e-8b1f-4d59-9a55-3c5a2f0e7b10"})
	require.NoError(t, err)
}

func TestRunGraph_ROI(t *testing.T) {
	e := newEnv(t)
	e.put(t, "proof", testutil.ProofGraph)

	res, err := e.eng.RunGraph(context.Background(), "proof", RunRequest{ROI: filter.Rect{X: 1, Y: 1, Width: 1, Height: 1}})
	require.NoError(t, err)
	assert.Zero(t, res.Data[0])
	assert.NotZero(t, res.Data[9])
}

func TestSetNodeOptions_InvalidatesAndSignals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, "proof", testutil.ProofGraph)
	_, err := e.eng.RunGraph(ctx, "proof", RunRequest{})
	require.NoError(t, err)

	n, err := e.eng.SetNodeOptions(ctx, "proof", "xfm", map[string]string{"gain": "0"})
	require.NoError(t, err)
	assert.Equal(t, "0", n.Options["gain"])
	assert.False(t, n.HasContext)
	assert.True(t, e.pub.sawSignal("proof/xfm:data_changed"))
	assert.True(t, e.pub.sawSignal("proof/out:data_changed"), "downstream node not notified")

	res, err := e.eng.RunGraph(ctx, "proof", RunRequest{})
	require.NoError(t, err)
	for _, v := range res.Data {
		assert.Zero(t, v)
	}
	assert.Equal(t, int64(2), e.eng.CacheStats().Builds)

	_, err = e.eng.SetNodeOptions(ctx, "proof", "ghost", map[string]string{"a": "b"})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteGraph(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, "proof", testutil.ProofGraph)
	_, err := e.eng.GetGraph(ctx, "proof")
	require.NoError(t, err)

	require.NoError(t, e.eng.DeleteGraph(ctx, "proof"))
	list, _ := e.eng.ListGraphs(ctx)
	assert.Empty(t, list)
	require.ErrorIs(t, e.eng.DeleteGraph(ctx, "proof"), apperr.ErrNotFound)
	assert.Zero(t, e.eng.Runtime().Bus.Len())
}

func TestDevicePreference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, "proof", "device: monitor-1\n"+testutil.ProofGraph)

	d, err := e.eng.GetGraph(ctx, "proof")
	require.NoError(t, err)
	assert.Equal(t, "lcm2", d.Nodes[1].Signature)

	_, err = e.eng.BindDevice(ctx, models.Device{ID: "monitor-1", Profile: "sRGB.icc", Preferred: "lcms"})
	require.NoError(t, err)

	d, err = e.eng.GetGraph(ctx, "proof")
	require.NoError(t, err)
	assert.Equal(t, "lcms", d.Nodes[1].Signature)

	require.NoError(t, e.eng.UnbindDevice(ctx, "monitor-1"))
	d, err = e.eng.GetGraph(ctx, "proof")
	require.NoError(t, err)
	assert.Equal(t, "lcm2", d.Nodes[1].Signature)
}

func TestDefaultPreferred(t *testing.T) {
	e := newEnv(t, WithPreferred("lcms"))
	e.put(t, "proof", testutil.ProofGraph)

	d, err := e.eng.GetGraph(context.Background(), "proof")
	require.NoError(t, err)
	assert.Equal(t, "lcms", d.Nodes[1].Signature)
}

func TestBindDevice_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.eng.BindDevice(ctx, models.Device{ID: "p1", Class: "printer", Profile: "cmyk.icc"})
	require.ErrorIs(t, err, apperr.ErrModuleNotFound)

	_, err = e.eng.BindDevice(ctx, models.Device{ID: "m1", Profile: "sRGB.icc", Preferred: "zzzz"})
	require.ErrorIs(t, err, apperr.ErrModuleNotFound)

	_, err = e.eng.BindDevice(ctx, models.Device{ID: "m1"})
	require.ErrorIs(t, err, apperr.ErrInvalid)

	d, err := e.eng.BindDevice(ctx, models.Device{ID: "m1", Profile: "sRGB.icc"})
	require.NoError(t, err)
	assert.Equal(t, "monitor", d.Class)
}

func TestModules(t *testing.T) {
	e := newEnv(t)

	mods := e.eng.ListModules()
	sigs := make([]string, 0, len(mods))
	for _, m := range mods {
		sigs = append(sigs, m.Signature)
	}
	assert.Subset(t, sigs, []string{"oyra", "lcm2", "lcms", "oydi", "oyrb", "oyx1"})

	cands, err := e.eng.QueryModules("filter", "icc.transform", "")
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "lcm2", cands[0].Signature)
	assert.Equal(t, 5, cands[0].Raw)

	cands, err = e.eng.QueryModules("filter", "icc.transform", "lcms")
	require.NoError(t, err)
	assert.Equal(t, "lcms", cands[0].Signature)
	assert.Equal(t, 30, cands[0].Rank)
	assert.True(t, cands[0].Preferred)

	_, err = e.eng.QueryModules("gizmo", "", "")
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestHandleFileEvent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "proof.yaml"), []byte(testutil.ProofGraph), 0o644))
	e.eng.HandleFileEvent(graphdef.EventCreated, "proof")
	list, _ := e.eng.ListGraphs(ctx)
	require.Len(t, list, 1)

	require.NoError(t, os.Remove(filepath.Join(e.dir, "proof.yaml")))
	e.eng.HandleFileEvent(graphdef.EventDeleted, "proof")
	list, _ = e.eng.ListGraphs(ctx)
	assert.Empty(t, list)

	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "late.yaml"), []byte(testutil.ProofGraph), 0o644))
	e.eng.HandleFileEvent(graphdef.EventResync, "")
	list, _ = e.eng.ListGraphs(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "late", list[0].Name)
	assert.Contains(t, e.pub.graphs, "created:proof")
}
