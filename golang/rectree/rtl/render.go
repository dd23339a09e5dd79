package rtl

import (
	"fmt"
	"io"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

func recurrentDraw(g *cgraph.Graph, node Node, parentNode *cgraph.Node, counter *int) error {
	currentNode, err := g.CreateNode(fmt.Sprint(*counter))
	if err != nil {
		return err
	}
	*counter++

	if parentNode != nil {
		if _, err := g.CreateEdge("", parentNode, currentNode); err != nil {
			return err
		}
	}

	switch n := node.(type) {
	case *Leaf:
		currentNode.Set("label", n.GraphDescription())
		currentNode.Set("shape", "box")
	case *Split:
		currentNode.Set("label", n.GraphDescription())
		if err := recurrentDraw(g, n.Left, currentNode, counter); err != nil {
			return err
		}
		return recurrentDraw(g, n.Right, currentNode, counter)
	}
	return nil
}

//DrawGraph builds a graphviz graph of the tree. The caller closes both returned values.
func (tree *Tree) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph, error) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	if err != nil {
		_ = graphViz.Close()
		return nil, nil, err
	}

	if tree.root != nil {
		counter := 0
		if err := recurrentDraw(graph, tree.root, nil, &counter); err != nil {
			_ = graph.Close()
			_ = graphViz.Close()
			return nil, nil, err
		}
	}
	return graphViz, graph, nil
}

//Render writes the tree in the given graphviz format (svg, png, jpg, dot).
func (tree *Tree) Render(w io.Writer, format graphviz.Format) error {
	graphViz, graph, err := tree.DrawGraph()
	if err != nil {
		return err
	}
	defer func() {
		_ = graph.Close()
		_ = graphViz.Close()
	}()
	return graphViz.Render(graph, format, w)
}

//ParseFormat maps a file extension to a graphviz format.
func ParseFormat(figureType string) (graphviz.Format, error) {
	format, ok := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
		"dot": graphviz.XDOT,
	}[figureType]
	if !ok {
		return "", fmt.Errorf("unknown figure type %q", figureType)
	}
	return format, nil
}
