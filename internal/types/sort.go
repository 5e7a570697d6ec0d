package types

import "strings"

// SortField names a column the list query can order results by.
type SortField string

const (
	SortFieldPriority SortField = "priority"
	SortFieldCreated  SortField = "created"
	SortFieldUpdated  SortField = "updated"
	SortFieldTitle    SortField = "title"
)

// SortDirection is ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// IssueSortOption is one field/direction pair in a multi-key sort order.
type IssueSortOption struct {
	Field     SortField
	Direction SortDirection
}

var sortFieldNames = map[string]SortField{
	"priority": SortFieldPriority,
	"created":  SortFieldCreated,
	"updated":  SortFieldUpdated,
	"title":    SortFieldTitle,
}

// ParseIssueSortOrder parses a comma-separated "field-direction" list (e.g.
// "updated-desc,title-asc") into sort options, silently skipping entries
// that don't resolve to a known field and direction.
func ParseIssueSortOrder(s string) []IssueSortOption {
	var opts []IssueSortOption
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, "-")
		if idx <= 0 || idx == len(part)-1 {
			continue
		}
		fieldName, dirName := part[:idx], part[idx+1:]
		field, ok := sortFieldNames[fieldName]
		if !ok {
			continue
		}
		var dir SortDirection
		switch dirName {
		case "asc", "ascending":
			dir = SortAsc
		case "desc", "descending":
			dir = SortDesc
		default:
			continue
		}
		opts = append(opts, IssueSortOption{Field: field, Direction: dir})
	}
	return opts
}

// EncodeIssueSortOrder is the inverse of ParseIssueSortOrder.
func EncodeIssueSortOrder(opts []IssueSortOption) string {
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		parts = append(parts, string(o.Field)+"-"+string(o.Direction))
	}
	return strings.Join(parts, ",")
}

// DefaultIssueSortOptions is the list default: priority ascending, then
// created_at descending as a tiebreaker (see §4.1 list filter grammar).
func DefaultIssueSortOptions() []IssueSortOption {
	return []IssueSortOption{
		{Field: SortFieldPriority, Direction: SortAsc},
		{Field: SortFieldCreated, Direction: SortDesc},
	}
}
