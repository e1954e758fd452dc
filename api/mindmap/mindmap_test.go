package mindmap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeInferer struct {
	reply string
	err   error
}

func (f fakeInferer) Infer(context.Context, string, []string) (string, error) { return f.reply, f.err }

const outlineReply = "```json\n" + `{"central": "Consensus", "branches": [
  {"name": "Raft", "children": ["Leader election", "Log replication"]},
  {"name": "Paxos", "children": ["Prepare", " "]}
]}` + "\n```"

func TestParseOutline(t *testing.T) {
	o, err := ParseOutline(outlineReply)
	require.NoError(t, err)
	require.Equal(t, "Consensus", o.Central)
	require.Len(t, o.Branches, 2)
	require.Equal(t, []string{"Leader election", "Log replication"}, o.Branches[0].Children)

	_, err = ParseOutline(`{"central": " ", "branches": []}`)
	require.ErrorIs(t, err, ErrEmptyOutline)

	_, err = ParseOutline("no json")
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	o, err := ParseOutline(outlineReply)
	require.NoError(t, err)

	out := Render(o)
	require.True(t, strings.HasPrefix(out, "digraph"))
	require.Contains(t, out, `"Consensus"`)
	require.Contains(t, out, "Leader election")
	require.Contains(t, out, "lightgreen")
	require.Contains(t, out, "lightcoral")
	require.Equal(t, 5, strings.Count(out, "->"), "blank children are not drawn")
}

func TestGenerator_WritesDotFile(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGenerator(fakeInferer{reply: outlineReply}, dir)
	require.NoError(t, err)
	g.dotBinary = ""

	artifacts, err := g.Generate(context.Background(), "consensus algorithms")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, dir, filepath.Dir(artifacts[0]))
	require.True(t, strings.HasSuffix(artifacts[0], "_mindmap.dot"))

	data, err := os.ReadFile(artifacts[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "Consensus")
}

func TestGenerator_Errors(t *testing.T) {
	_, err := NewGenerator(nil, "")
	require.Error(t, err)

	g, err := NewGenerator(fakeInferer{err: errors.New("boom")}, t.TempDir())
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "x")
	require.Error(t, err)
}
