// Package testutil provides assertion helpers and deterministic document
// tree generators for tests. All generators produce reproducible output
// from a fixed seed.
package testutil

import (
	"fmt"
	"math/rand"

	"github.com/livedoc-io/livedoc/pkg/document"
)

// TreeSpec controls the shape of a generated document tree.
type TreeSpec struct {
	Seed     int64
	Depth    int      // Maximum nesting depth
	Breadth  int      // Maximum children per element
	Writes   int      // Data writes per element
	Formats  []string // Defaults to html and md
	RootName string   // Defaults to "body"
}

// GenerateTree builds a deterministic random document tree. Each element
// gets interleaved data writes and child elements, so the result exercises
// ordering across formats.
func GenerateTree(spec TreeSpec) *document.Node {
	if spec.RootName == "" {
		spec.RootName = "body"
	}
	if len(spec.Formats) == 0 {
		spec.Formats = []string{document.FormatHTML, document.FormatMarkdown}
	}
	if spec.Writes == 0 {
		spec.Writes = 3
	}
	rng := rand.New(rand.NewSource(spec.Seed))
	root := document.NewNode(spec.RootName, spec.Formats)
	counter := 0
	populate(rng, root, spec, spec.Depth, &counter)
	return root
}

func populate(rng *rand.Rand, n *document.Node, spec TreeSpec, depth int, counter *int) {
	children := 0
	if depth > 0 && spec.Breadth > 0 {
		children = rng.Intn(spec.Breadth + 1)
	}
	steps := spec.Writes + children
	for i := 0; i < steps; i++ {
		if children > 0 && rng.Intn(steps-i) < children {
			*counter++
			child := n.AddSubElement(fmt.Sprintf("el%04d", *counter))
			populate(rng, child, spec, depth-1, counter)
			children--
			continue
		}
		format := spec.Formats[rng.Intn(len(spec.Formats))]
		data := fmt.Sprintf("<%s:%d>", n.Name(), rng.Intn(1000))
		_ = n.AddData(format, []byte(data))
	}
}
