package vespa

import (
	"fmt"
	"strings"
	"time"

	"github.com/lodestar-kb/lodestar/internal/indexing"
)

// buildFilters renders the WHERE prefix for a query. The trailing " and " is
// intentional; the caller appends the match clause. Careful touching the ACL
// part: there is no second ACL check after retrieval.
func (x *Index) buildFilters(filters indexing.IndexFilters, includeHidden bool) string {
	var sb strings.Builder

	if !includeHidden {
		sb.WriteString(fmt.Sprintf("!(%s=true) and ", fieldHidden))
	}

	sb.WriteString(orFilter(fieldACL, filters.AccessControlList))
	sb.WriteString(orFilter(fieldSourceType, filters.SourceType))
	sb.WriteString(orFilter(fieldDocumentSets, filters.DocumentSet))
	sb.WriteString(x.timeFilter(filters.TimeCutoff))

	return sb.String()
}

// orFilter renders `(key contains "v1" or key contains "v2") and `, dropping
// empty values. Contributes nothing when no values remain.
func orFilter(key string, vals []string) string {
	var clauses []string
	for _, val := range vals {
		if val == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s contains %q", key, val))
	}
	if len(clauses) == 0 {
		return ""
	}
	return "(" + strings.Join(clauses, " or ") + ") and "
}

// timeFilter restricts by update time. Queries asking for documents more
// recent than the untimed grace window also drop documents that never
// reported an update time; older cutoffs keep them, via the negated
// comparison that unset fields fail.
func (x *Index) timeFilter(cutoff *time.Time) string {
	if cutoff == nil {
		return ""
	}

	includeUntimed := x.now().Sub(*cutoff) > x.cfg.UntimedDocCutoff
	cutoffSecs := cutoff.Unix()

	if includeUntimed {
		return fmt.Sprintf("!(%s < %d) and ", fieldDocUpdatedAt, cutoffSecs)
	}
	return fmt.Sprintf("(%s >= %d) and ", fieldDocUpdatedAt, cutoffSecs)
}
