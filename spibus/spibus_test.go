package spibus

import "testing"

func TestLevelConstants(t *testing.T) {
	if Low == High {
		t.Fatalf("Low and High must differ")
	}
}

func TestEdgeConstants(t *testing.T) {
	edges := []Edge{NoEdge, RisingEdge, FallingEdge, BothEdges}
	seen := map[Edge]bool{}
	for _, e := range edges {
		if seen[e] {
			t.Fatalf("duplicate edge constant value %v", e)
		}
		seen[e] = true
	}
}
