package runs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wptspec/internal/productspec"
)

func TestMatches(t *testing.T) {
	run := TestRun{
		BrowserName:    "chrome",
		BrowserVersion: "60.0.3112.90",
		Revision:       "abc1234567",
		Labels:         []string{"stable", "azure"},
	}

	tests := []struct {
		spec string
		want bool
	}{
		{"chrome", true},
		{"firefox", false},
		{"chrome@latest", true},
		{"chrome@abc1234567", true},
		{"chrome@0000000000", false},
		{"chrome[stable]", true},
		{"chrome[stable,azure]", true},
		{"chrome[experimental]", false},
		{"chrome-60", true},
		{"chrome-60.0", true},
		{"chrome-6", false},
		{"chrome-60.0.3112.90", true},
		{"chrome-61", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(productspec.MustParse(tt.spec), run))
		})
	}
}

func TestFilter(t *testing.T) {
	all := []TestRun{
		{ID: 1, BrowserName: "chrome", Labels: []string{"stable"}},
		{ID: 2, BrowserName: "chrome", Labels: []string{"experimental"}},
		{ID: 3, BrowserName: "safari", Labels: []string{"stable"}},
	}
	got := Filter(all, productspec.MustParse("chrome[experimental]"), productspec.MustParse("safari"))
	var ids []int64
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestRunSpec(t *testing.T) {
	run := TestRun{BrowserName: "edge", BrowserVersion: "18", Revision: "abc", Labels: []string{"stable"}}
	assert.Equal(t, "edge-18[stable]@abc", run.Spec().String())
	assert.True(t, Matches(run.Spec(), run), "a run always matches its own spec")
}

func TestCompareVersions(t *testing.T) {
	assert.Positive(t, compareVersions("78.0.3887.7", "76.0.3809.100"))
	assert.Positive(t, compareVersions("10.1", "9.9"))
	assert.Negative(t, compareVersions("12", "12.1"))
	assert.Zero(t, compareVersions("12.1", "12.1"))
	assert.Positive(t, compareVersions("12.1b", "12.1a"))
}
