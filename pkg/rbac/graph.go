package rbac

// Graph is an in-memory adjacency view of the auth items and hierarchy
// edges, loaded once per invocation. All traversal happens here instead of
// issuing per-edge queries against the store.
//
// Iteration order is deterministic: edges are kept in (parent, child) order
// as loaded, which the resolver relies on for its tie-break rules.
type Graph struct {
	items    map[string]*Item
	children map[string][]string
	parents  map[string][]string
}

// NewGraph builds a graph from item and edge lists. Edges that reference
// unknown items are kept in the adjacency maps but resolve to no item during
// traversal, so a malformed snapshot degrades instead of failing.
func NewGraph(items []Item, edges []Edge) *Graph {
	g := &Graph{
		items:    make(map[string]*Item, len(items)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
	for i := range items {
		item := items[i]
		g.items[item.Name] = &item
	}
	for _, e := range edges {
		g.children[e.Parent] = append(g.children[e.Parent], e.Child)
		g.parents[e.Child] = append(g.parents[e.Child], e.Parent)
	}
	return g
}

// FindItem returns the named item or nil
func (g *Graph) FindItem(name string) *Item {
	return g.items[name]
}

// FindRole returns the named role item, or nil when the name is absent or
// names a permission.
func (g *Graph) FindRole(name string) *Item {
	item := g.items[name]
	if item == nil || !item.IsRole() {
		return nil
	}
	return item
}

// HasPermission reports whether a permission item with the given name exists
func (g *Graph) HasPermission(name string) bool {
	item := g.items[name]
	return item != nil && item.IsPermission()
}

// ImmediateChildren returns the one-hop children of an item in edge order
func (g *Graph) ImmediateChildren(name string) []*Item {
	var out []*Item
	for _, child := range g.children[name] {
		if item := g.items[child]; item != nil {
			out = append(out, item)
		}
	}
	return out
}

// DirectPermissions returns the permissions that are immediate children of
// an item, keyed by name.
func (g *Graph) DirectPermissions(name string) map[string]*Item {
	out := make(map[string]*Item)
	for _, child := range g.ImmediateChildren(name) {
		if child.IsPermission() {
			out[child.Name] = child
		}
	}
	return out
}

// DescendantPermissions returns every permission reachable from the named
// item through any-length path of hierarchy edges, keyed by name.
func (g *Graph) DescendantPermissions(name string) map[string]*Item {
	out := make(map[string]*Item)
	visited := map[string]bool{name: true}
	stack := append([]string(nil), g.children[name]...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		if item := g.items[current]; item != nil && item.IsPermission() {
			out[current] = item
		}
		stack = append(stack, g.children[current]...)
	}
	return out
}

// ParentPermissions returns the names of the permission-type parents of the
// given item, in edge order. Role parents are excluded: this walks
// permission-to-permission composition only.
func (g *Graph) ParentPermissions(name string) []string {
	var out []string
	for _, parent := range g.parents[name] {
		if item := g.items[parent]; item != nil && item.IsPermission() {
			out = append(out, parent)
		}
	}
	return out
}
