package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Export is the serialized form of a graph, consumed by the viewer and by
// the check command. Field names are stable; round-tripping an export back
// through FromExport reconstructs equivalent node and edge sets.
type Export struct {
	Nodes                []*Variable `json:"nodes"`
	Edges                []*Edge     `json:"edges"`
	EndOfRun             uint64      `json:"end_of_run"`
	UnresolvedReferences int         `json:"unresolved_references"`
}

// Export produces the serializable form of the graph. Nodes are ordered by
// id so the output is deterministic.
func (g *Graph) Export() *Export {
	nodes := make([]*Variable, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return &Export{
		Nodes:                nodes,
		Edges:                g.Edges,
		EndOfRun:             g.EndOfRun,
		UnresolvedReferences: g.UnresolvedReferences,
	}
}

// FromExport reconstructs a graph from its exported form.
func FromExport(ex *Export) *Graph {
	g := &Graph{
		Nodes:                make(map[uint64]*Variable, len(ex.Nodes)),
		Edges:                ex.Edges,
		EndOfRun:             ex.EndOfRun,
		UnresolvedReferences: ex.UnresolvedReferences,
	}
	for _, n := range ex.Nodes {
		g.Nodes[n.ID] = n
	}
	return g
}

// WriteJSON writes the export as indented JSON.
func (ex *Export) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ex)
}

// ReadExport decodes an export previously written by WriteJSON.
func ReadExport(r io.Reader) (*Export, error) {
	var ex Export
	if err := json.NewDecoder(r).Decode(&ex); err != nil {
		return nil, fmt.Errorf("failed to decode graph export: %w", err)
	}
	return &ex, nil
}
