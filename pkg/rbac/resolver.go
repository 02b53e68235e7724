package rbac

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// GlobalWildcard matches any route when granted
const GlobalWildcard = "/*"

// transitiveSetCacheSize bounds the per-invocation role memo. Audits resolve
// many routes against few roles, so a small cache covers everything.
const transitiveSetCacheSize = 128

// Resolver decides whether a role can access a route and explains why.
// It operates entirely on a Graph loaded at construction time; results are
// recomputed per route and the resolver holds no state beyond a memo of
// transitive permission sets per role.
type Resolver struct {
	graph *Graph
	memo  *lru.Cache[string, map[string]*Item]
}

// NewResolver creates a resolver over the given graph
func NewResolver(graph *Graph) *Resolver {
	memo, _ := lru.New[string, map[string]*Item](transitiveSetCacheSize)
	return &Resolver{graph: graph, memo: memo}
}

// Graph exposes the underlying adjacency view
func (r *Resolver) Graph() *Graph {
	return r.graph
}

// HasPermission reports whether a permission item with the given name exists
func (r *Resolver) HasPermission(name string) bool {
	return r.graph.HasPermission(name)
}

// Resolve determines whether role may access route.
//
// A missing role resolves to no access rather than an error: for audit
// purposes "role does not exist" and "role has no grant" are the same answer.
// Match order: exact permission, then prefix wildcards from the innermost
// prefix outward, then the global wildcard.
func (r *Resolver) Resolve(role, route string) AccessInfo {
	if r.graph.FindRole(role) == nil {
		return AccessInfo{}
	}

	all := r.allPermissions(role)

	if _, ok := all[route]; ok {
		return r.grant(role, route, "")
	}

	prefix := route
	for {
		idx := strings.LastIndex(prefix, "/")
		if idx <= 0 {
			break
		}
		prefix = prefix[:idx]
		pattern := prefix + "/*"
		if _, ok := all[pattern]; ok {
			return r.grant(role, pattern, pattern)
		}
	}

	if _, ok := all[GlobalWildcard]; ok {
		return r.grant(role, GlobalWildcard, GlobalWildcard)
	}

	return AccessInfo{}
}

// grant assembles the explanation for a matched permission
func (r *Resolver) grant(role, permission, wildcard string) AccessInfo {
	info := AccessInfo{
		HasAccess:       true,
		Wildcard:        wildcard,
		PermissionChain: r.buildPermissionChain(permission),
	}
	if _, direct := r.graph.DirectPermissions(role)[permission]; !direct {
		info.InheritedFrom = r.findParentWithPermission(role, permission)
	}
	return info
}

// allPermissions returns the transitive permission set for a role, memoized
// for the lifetime of this resolver.
func (r *Resolver) allPermissions(role string) map[string]*Item {
	if cached, ok := r.memo.Get(role); ok {
		return cached
	}
	set := r.graph.DescendantPermissions(role)
	r.memo.Add(role, set)
	return set
}

// findParentWithPermission names the first immediate child role (in store
// order) whose transitive permission set contains the permission. It picks a
// single intermediate role for display; when several qualify only the first
// is reported.
func (r *Resolver) findParentWithPermission(role, permission string) string {
	for _, child := range r.graph.ImmediateChildren(role) {
		if !child.IsRole() {
			continue
		}
		if _, ok := r.allPermissions(child.Name)[permission]; ok {
			return child.Name
		}
	}
	return ""
}

// buildPermissionChain returns the permission followed by its permission-type
// ancestors in pre-order: each parent is emitted immediately before its own
// ancestors. The visited set bounds the walk on malformed cyclic data.
func (r *Resolver) buildPermissionChain(permission string) []string {
	var chain []string
	visited := make(map[string]bool)
	r.walkChain(permission, visited, &chain)
	return chain
}

func (r *Resolver) walkChain(permission string, visited map[string]bool, chain *[]string) {
	if visited[permission] {
		return
	}
	visited[permission] = true
	*chain = append(*chain, permission)
	for _, parent := range r.graph.ParentPermissions(permission) {
		r.walkChain(parent, visited, chain)
	}
}
