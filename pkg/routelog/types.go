package routelog

import (
	"time"

	"github.com/authtrail/authtrail/pkg/rbac"
)

// Entry is one logged route invocation. Rows are written by the request
// logging middleware outside this repository; this tool only reads and
// clears them.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	Route     *string   `json:"route,omitempty"`
	Method    string    `json:"method"`
	Params    *string   `json:"params,omitempty"`
	ErrorCode *int      `json:"error_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RouteErrors pairs a distinct route with the distinct error codes seen on it
type RouteErrors struct {
	Route      string
	ErrorCodes []int
}

// RouteUsage is one audited route in an export report
type RouteUsage struct {
	Route      string          `json:"route"`
	Access     rbac.AccessInfo `json:"access"`
	ErrorCodes []int           `json:"error_codes,omitempty"`
	IsNew      bool            `json:"is_new"`
}

// UsageReport is the result of auditing logged routes against a role
type UsageReport struct {
	Role         string       `json:"role"`
	Routes       []RouteUsage `json:"routes"`
	Unauthorized []string     `json:"unauthorized,omitempty"`

	// NewRoutes lists routes with no matching permission item; candidates
	// for permission creation.
	NewRoutes []string `json:"new_routes,omitempty"`
}

// Total returns the number of distinct audited routes
func (r *UsageReport) Total() int {
	return len(r.Routes)
}

// StatsRow is one (route, role) aggregation group
type StatsRow struct {
	Route      string `json:"route"`
	Role       string `json:"role"`
	Count      int64  `json:"count"`
	ErrorCount int64  `json:"error_count"`
}

// StatsReport aggregates the whole log
type StatsReport struct {
	Rows        []StatsRow `json:"rows"`
	TotalCount  int64      `json:"total_count"`
	TotalErrors int64      `json:"total_errors"`

	// ErrorRate is TotalErrors/TotalCount as a percentage, rounded to two
	// decimal places, zero for an empty log.
	ErrorRate float64 `json:"error_rate"`
}

// Filter narrows route log queries. From and To bound created_at inclusively;
// To is already expanded to the end of its day by the caller.
type Filter struct {
	Role       string
	IgnoreRole bool
	From       *time.Time
	To         *time.Time
	MaxID      *int64
}
