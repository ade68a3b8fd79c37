// Package roomviz renders a Room's change history as a graphviz graph, one
// node per automerge change annotated with the prosemirror fragment and
// daMetadata register as they stood at that change, adapted from the
// teacher's pkg/viz graph-of-counter-values rendering. It is debug-only
// tooling: nothing in the serving path imports this package.
package roomviz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// snapshot is what gets rendered into a node's label at a given change.
type snapshot struct {
	Prosemirror string            `json:"prosemirror,omitempty"`
	DaMetadata  map[string]string `json:"daMetadata,omitempty"`
}

func readSnapshot(doc *automerge.Doc) snapshot {
	var s snapshot
	if v, err := doc.Path("prosemirror").Get(); err == nil && v != nil {
		if str, ok := v.Interface().(string); ok {
			s.Prosemirror = str
		}
	}
	if v, err := doc.Path("daMetadata").Get(); err == nil && v != nil {
		if raw, ok := v.Interface().(map[string]interface{}); ok {
			s.DaMetadata = make(map[string]string, len(raw))
			for k, vv := range raw {
				if sv, ok := vv.(string); ok {
					s.DaMetadata[k] = sv
				}
			}
		}
	}
	return s
}

// RenderToSVG walks every change in doc's history and renders a DAG of
// changes, each labeled with its actor/seq and the prosemirror+daMetadata
// state at that point, into SVG bytes.
func RenderToSVG(doc *automerge.Doc) ([]byte, error) {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return nil, fmt.Errorf("roomviz: failed to setup graph: %w", err)
	}

	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("roomviz: failed to list changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("roomviz: failed to fork at %s: %w", change.Hash(), err)
		}

		encoded, err := json.Marshal(readSnapshot(docAt))
		if err != nil {
			return nil, fmt.Errorf("roomviz: failed to marshal snapshot at %s: %w", change.Hash(), err)
		}

		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return nil, fmt.Errorf("roomviz: failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s %s@%d %s", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), string(encoded)))
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			parent, ok := nodeMap[hash.String()]
			if !ok {
				continue
			}
			if _, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), parent, n); err != nil {
				return nil, fmt.Errorf("roomviz: failed to create edge: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("roomviz: failed to render: %w", err)
	}
	return buf.Bytes(), nil
}
