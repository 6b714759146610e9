package pipeline

import (
	"reflect"
	"strings"
	"testing"
)

func nodes(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func TestBuildLevels(t *testing.T) {
	tests := []struct {
		name  string
		graph *Graph
		want  [][]string
	}{
		{
			name:  "linear",
			graph: &Graph{Nodes: nodes("camera", "encoder", "sink"), Edges: []Edge{{"camera", "encoder"}, {"encoder", "sink"}}},
			want:  [][]string{{"camera"}, {"encoder"}, {"sink"}},
		},
		{
			name: "fan out",
			graph: &Graph{Nodes: nodes("camera", "preview", "still", "video"), Edges: []Edge{
				{"camera", "video"}, {"camera", "still"}, {"camera", "preview"},
			}},
			want: [][]string{{"camera"}, {"preview", "still", "video"}},
		},
		{
			name:  "unlinked stages",
			graph: &Graph{Nodes: nodes("b", "a")},
			want:  [][]string{{"a", "b"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildLevels(tc.graph)
			if err != nil {
				t.Fatalf("BuildLevels failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("levels = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBuildLevelsErrors(t *testing.T) {
	tests := []struct {
		name  string
		graph *Graph
		want  string
	}{
		{"cycle", &Graph{Nodes: nodes("a", "b"), Edges: []Edge{{"a", "b"}, {"b", "a"}}}, "cycle detected"},
		{"unknown from", &Graph{Nodes: nodes("a"), Edges: []Edge{{"x", "a"}}}, `unknown stage "x"`},
		{"unknown to", &Graph{Nodes: nodes("a"), Edges: []Edge{{"a", "y"}}}, `unknown stage "y"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildLevels(tc.graph)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	got := flatten([][]string{{"a"}, {"b", "c"}})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("unexpected order %v", got)
	}
}
