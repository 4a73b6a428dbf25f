package vespa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lodestar-kb/lodestar/internal/indexing"
	"github.com/lodestar-kb/lodestar/internal/observability"
)

func newFilterIndex(now time.Time) *Index {
	idx := NewIndex(Config{
		Host:             "localhost",
		Port:             8081,
		TenantPort:       19071,
		IndexName:        testIndexName,
		UntimedDocCutoff: 92 * 24 * time.Hour,
	}, observability.NopLogger())
	idx.now = func() time.Time { return now }
	return idx
}

func TestBuildFilters_FullComposition(t *testing.T) {
	idx := newFilterIndex(time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC))

	cutoff := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	got := idx.buildFilters(indexing.IndexFilters{
		AccessControlList: []string{"u:alice", indexing.ACLPublic},
		SourceType:        []string{"slack"},
		DocumentSet:       []string{"eng"},
		TimeCutoff:        &cutoff,
	}, false)

	want := `!(hidden=true) and ` +
		`(access_control_list contains "u:alice" or access_control_list contains "__public__") and ` +
		`(source_type contains "slack") and ` +
		`(document_sets contains "eng") and ` +
		`(doc_updated_at >= 1690848000) and `
	assert.Equal(t, want, got)
}

func TestBuildFilters_AdminIncludesHidden(t *testing.T) {
	idx := newFilterIndex(time.Now())

	got := idx.buildFilters(indexing.IndexFilters{SourceType: []string{"web"}}, true)
	assert.Equal(t, `(source_type contains "web") and `, got)
	assert.NotContains(t, got, "hidden")
}

func TestBuildFilters_EmptyValuesDropped(t *testing.T) {
	idx := newFilterIndex(time.Now())

	got := idx.buildFilters(indexing.IndexFilters{
		AccessControlList: []string{"", "u:bob", ""},
		SourceType:        []string{""},
	}, false)
	assert.Equal(t, `!(hidden=true) and (access_control_list contains "u:bob") and `, got)
}

func TestBuildFilters_NoFilters(t *testing.T) {
	idx := newFilterIndex(time.Now())
	assert.Equal(t, "!(hidden=true) and ", idx.buildFilters(indexing.IndexFilters{}, false))
	assert.Equal(t, "", idx.buildFilters(indexing.IndexFilters{}, true))
}

func TestTimeFilter_RecentCutoffExcludesUntimed(t *testing.T) {
	now := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	idx := newFilterIndex(now)

	// 30 days back, inside the 92-day grace window
	cutoff := now.AddDate(0, 0, -30) // 2023-08-02
	got := idx.timeFilter(&cutoff)
	assert.Equal(t, "(doc_updated_at >= 1690934400) and ", got)
}

func TestTimeFilter_OldCutoffIncludesUntimed(t *testing.T) {
	now := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	idx := newFilterIndex(now)

	// 120 days back, beyond the grace window: negated form keeps documents
	// that never reported an update time
	cutoff := now.AddDate(0, 0, -120) // 2023-05-04
	got := idx.timeFilter(&cutoff)
	assert.Equal(t, "!(doc_updated_at < 1683158400) and ", got)
}

func TestTimeFilter_NilCutoff(t *testing.T) {
	idx := newFilterIndex(time.Now())
	assert.Equal(t, "", idx.timeFilter(nil))
}
