package graphmodel

// GraphNode is a node in its generic, schema-free form: whatever the database
// returned, without mapping to a declared type. Used by FindGraph and traversal
// results, where rows can mix entity types.
type GraphNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// GraphEdge is a relationship in its generic form. Source and Target carry the
// database element identifiers of the connected nodes.
type GraphEdge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// GraphResult is a de-duplicated set of nodes and edges extracted from an
// arbitrary graph query, in a clean shape suitable for frontends or other services.
type GraphResult struct {
	Nodes []*GraphNode `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
}
