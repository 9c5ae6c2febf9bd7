package tenant

// Flat is a tenant row as supplied by the consumer building a hierarchy view.
type Flat struct {
	ID       string
	Name     string
	ParentID string
}

// Node is a tenant with resolved children.
type Node struct {
	Flat
	Children []*Node
}

// BuildHierarchy arranges a flat tenant list into a forest. A node becomes a
// root when it has no parent or its parent does not resolve to a known
// tenant; dangling parents are treated as roots, not dropped.
func BuildHierarchy(tenants []Flat) []*Node {
	lookup := make(map[string]*Node, len(tenants))
	order := make([]*Node, 0, len(tenants))
	for _, t := range tenants {
		node := &Node{Flat: t}
		lookup[t.ID] = node
		order = append(order, node)
	}

	var roots []*Node
	for _, node := range order {
		if parent, ok := lookup[node.ParentID]; ok && node.ParentID != "" {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}
