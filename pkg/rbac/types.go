package rbac

import "time"

// ItemKind distinguishes roles from permissions in the auth graph
type ItemKind string

const (
	KindRole       ItemKind = "role"
	KindPermission ItemKind = "permission"
)

// Rule is an opaque, named authorization rule payload. Rule logic is never
// evaluated by these tools; it round-trips through export/import as stored.
type Rule struct {
	Name      string    `json:"name" yaml:"name"`
	Data      []byte    `json:"data,omitempty" yaml:"data,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Item is a node in the auth graph: a role or a permission
type Item struct {
	Name        string    `json:"name" yaml:"name"`
	Kind        ItemKind  `json:"kind" yaml:"kind"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	RuleName    string    `json:"rule_name,omitempty" yaml:"rule_name,omitempty"`
	Data        []byte    `json:"data,omitempty" yaml:"data,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// IsRole reports whether the item is a role
func (i *Item) IsRole() bool {
	return i.Kind == KindRole
}

// IsPermission reports whether the item is a permission
func (i *Item) IsPermission() bool {
	return i.Kind == KindPermission
}

// Edge is a directed parent->child grant in the auth graph. The child is
// inherited by the parent: a role's descendants are its permissions and
// sub-roles.
type Edge struct {
	Parent string `json:"parent" yaml:"parent"`
	Child  string `json:"child" yaml:"child"`
}

// AccessInfo explains the outcome of resolving a role against a route
type AccessInfo struct {
	HasAccess bool `json:"has_access" yaml:"has_access"`

	// InheritedFrom names the immediate sub-role that grants the matched
	// permission, empty when the role holds it directly.
	InheritedFrom string `json:"inherited_from,omitempty" yaml:"inherited_from,omitempty"`

	// Wildcard is the matched pattern ("a/b/*" or "/*") when access was
	// granted through a wildcard permission rather than an exact match.
	Wildcard string `json:"wildcard,omitempty" yaml:"wildcard,omitempty"`

	// PermissionChain lists the matched permission first, followed by its
	// permission-type ancestors in pre-order.
	PermissionChain []string `json:"permission_chain,omitempty" yaml:"permission_chain,omitempty"`
}

// Snapshot is a portable point-in-time copy of the whole auth graph
type Snapshot struct {
	ID         string    `json:"id" yaml:"id"`
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Rules      []Rule    `json:"rules" yaml:"rules"`
	Items      []Item    `json:"items" yaml:"items"`
	Edges      []Edge    `json:"children" yaml:"children"`
}

// ImportSummary reports what a snapshot import wrote and skipped
type ImportSummary struct {
	Rules        int `json:"rules"`
	Items        int `json:"items"`
	Edges        int `json:"edges"`
	SkippedRoles int `json:"skipped_roles"`
}
