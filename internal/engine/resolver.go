package engine

import "github.com/seantiz/weft/internal/model"

// edgeIndex holds forward (source -> outgoing) and reverse
// (target -> incoming) adjacency built from a graph's edges.
type edgeIndex struct {
	forward map[string][]model.Edge
	reverse map[string][]model.Edge
}

func resolveEdges(edges []model.Edge) edgeIndex {
	idx := edgeIndex{
		forward: make(map[string][]model.Edge),
		reverse: make(map[string][]model.Edge),
	}
	for _, e := range edges {
		idx.forward[e.Source] = append(idx.forward[e.Source], e)
		idx.reverse[e.Target] = append(idx.reverse[e.Target], e)
	}
	return idx
}
