package mindmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/emicklei/dot"
	"github.com/google/uuid"

	constants "multisource-digest/api/constants"
)

var ErrEmptyOutline = errors.New("mindmap: outline has no central topic")

var branchColors = []string{"lightgreen", "lightcoral", "lightyellow", "lightpink", "lightcyan", "wheat"}

type Branch struct {
	Name     string   `json:"name"`
	Children []string `json:"children"`
}

// Outline is the hierarchy a mindmap is drawn from.
type Outline struct {
	Central  string   `json:"central"`
	Branches []Branch `json:"branches"`
}

type Inferer interface {
	Infer(ctx context.Context, prompt string, passages []string) (string, error)
}

// Generator asks the inference unit for an outline and writes it as a
// Graphviz file, plus a PNG when the dot binary is installed.
type Generator struct {
	llm       Inferer
	outputDir string
	dotBinary string
}

func NewGenerator(llm Inferer, outputDir string) (*Generator, error) {
	if llm == nil {
		return nil, errors.New("mindmap: inference unit must not be nil")
	}
	if strings.TrimSpace(outputDir) == "" {
		outputDir = constants.OutputDir
	}
	bin, err := exec.LookPath("dot")
	if err != nil {
		bin = ""
	}
	return &Generator{llm: llm, outputDir: outputDir, dotBinary: bin}, nil
}

// Generate returns the paths of the written artifacts.
func (g *Generator) Generate(ctx context.Context, topic string) ([]string, error) {
	reply, err := g.llm.Infer(ctx, OutlinePrompt(topic), nil)
	if err != nil {
		return nil, fmt.Errorf("mindmap: outline: %w", err)
	}
	outline, err := ParseOutline(reply)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("mindmap: create output dir: %w", err)
	}
	base := filepath.Join(g.outputDir, uuid.NewString()+"_mindmap")
	dotPath := base + ".dot"
	if err := os.WriteFile(dotPath, []byte(Render(outline)), 0o644); err != nil {
		return nil, fmt.Errorf("mindmap: write %s: %w", dotPath, err)
	}
	artifacts := []string{dotPath}

	if g.dotBinary != "" {
		pngPath := base + ".png"
		out, err := exec.CommandContext(ctx, g.dotBinary, "-Tpng", dotPath, "-o", pngPath).CombinedOutput()
		if err != nil {
			constants.Logger.Warn("Graphviz render failed", "path", dotPath, "error", err, "output", string(out))
		} else {
			artifacts = append(artifacts, pngPath)
		}
	}
	constants.Logger.Info("Mindmap generated", "artifacts", artifacts, "branches", len(outline.Branches))
	return artifacts, nil
}

// ParseOutline decodes the first JSON object in reply.
func ParseOutline(reply string) (Outline, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return Outline{}, errors.New("mindmap: no JSON object in outline reply")
	}
	var o Outline
	if err := json.Unmarshal([]byte(reply[start:end+1]), &o); err != nil {
		return Outline{}, fmt.Errorf("mindmap: decode outline: %w", err)
	}
	o.Central = strings.TrimSpace(o.Central)
	if o.Central == "" {
		return Outline{}, ErrEmptyOutline
	}
	return o, nil
}

// Render draws the outline top-down: the central topic, one colour per
// branch, and children in their branch's colour.
func Render(o Outline) string {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "TB")
	g.Attr("splines", "curved")

	root := g.Node("central").Label(o.Central).
		Attr("shape", "ellipse").Attr("style", "filled").Attr("fillcolor", "lightblue").
		Attr("width", "2").Attr("height", "1").Attr("fontsize", "14")

	for i, b := range o.Branches {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			continue
		}
		color := branchColors[i%len(branchColors)]
		bn := g.Node(fmt.Sprintf("b%d", i)).Label(name).
			Attr("shape", "box").Attr("style", "filled,rounded").Attr("fillcolor", color).
			Attr("width", "1.5").Attr("height", "0.8").Attr("fontsize", "10")
		g.Edge(root, bn)
		for j, child := range b.Children {
			child = strings.TrimSpace(child)
			if child == "" {
				continue
			}
			cn := g.Node(fmt.Sprintf("b%d_%d", i, j)).Label(child).
				Attr("shape", "box").Attr("style", "filled").Attr("fillcolor", color).
				Attr("width", "1").Attr("height", "0.5").Attr("fontsize", "10")
			g.Edge(bn, cn)
		}
	}
	return g.String()
}

func OutlinePrompt(topic string) string {
	return fmt.Sprintf(`Build a mindmap outline for the core topic below. Ignore any text about processing, routing or formatting.
Return only JSON in this exact shape:
{"central": "<central concept>", "branches": [{"name": "<main topic>", "children": ["<subtopic>", "<subtopic>"]}]}
Use 3 to 6 branches with 2 to 4 children each.

Topic:
%s`, topic)
}
