package hiscore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

func TestCriteria_Matches(t *testing.T) {
	now := time.Now().UnixMilli()
	e := testEntry(500, 2.0, 3)
	e.CreatedAtMs = now
	e.Combination = &protomodel.Combination{Analyses: []protomodel.AnalysisRef{
		{AnalysisID: "ATLAS-SUSY-2018-12"}, {AnalysisID: "CMS-SUS-19-006"},
	}}

	tests := []struct {
		name string
		c    Criteria
		want bool
	}{
		{"no criteria", AnyCriteria(), true},
		{"since before", Criteria{Worker: -1, SinceMs: now - 1000}, true},
		{"since after", Criteria{Worker: -1, SinceMs: now + 1000}, false},
		{"until after", Criteria{Worker: -1, UntilMs: now + 1000}, true},
		{"until before", Criteria{Worker: -1, UntilMs: now - 1000}, false},
		{"same worker", Criteria{Worker: 3}, true},
		{"other worker", Criteria{Worker: 0}, false},
		{"min z met", Criteria{Worker: -1, MinZ: 2.0}, true},
		{"min z missed", Criteria{Worker: -1, MinZ: 2.1}, false},
		{"analysis glob", Criteria{Worker: -1, AnalysisGlob: "CMS-*"}, true},
		{"analysis glob missed", Criteria{Worker: -1, AnalysisGlob: "ATLAS-EXOT-*"}, false},
		{"bad glob", Criteria{Worker: -1, AnalysisGlob: "["}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Matches(e))
		})
	}

	t.Run("glob needs a combination", func(t *testing.T) {
		bare := testEntry(500, 2.0, 3)
		assert.False(t, Criteria{Worker: -1, AnalysisGlob: "*"}.Matches(bare))
	})
}

func TestCriteria_SelectKeepsOrder(t *testing.T) {
	entries := []Entry{testEntry(500, 3, 0), testEntry(510, 2, 1), testEntry(520, 1, 0)}
	got := Criteria{Worker: 0}.Select(entries)
	assert.Equal(t, []float64{3, 1}, zs(got))
}

func TestParseTime(t *testing.T) {
	ms, err := ParseTime("2026-01-02T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC).UnixMilli(), ms)

	before := time.Now().Add(-time.Hour).UnixMilli()
	ms, err = ParseTime("1h")
	require.NoError(t, err)
	assert.InDelta(t, before, ms, 1000)

	_, err = ParseTime("")
	assert.Error(t, err)
	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestParseTimeRange(t *testing.T) {
	since, until, err := ParseTimeRange("", "")
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)

	since, until, err = ParseTimeRange("2h", "1h")
	require.NoError(t, err)
	assert.Less(t, since, until)

	_, _, err = ParseTimeRange("1h", "2h")
	assert.EqualError(t, err, "--since must be before --until")

	_, _, err = ParseTimeRange("soon", "")
	assert.ErrorContains(t, err, "invalid --since")
}

func TestResolve(t *testing.T) {
	a := testEntry(500, 3, 0)
	b := testEntry(600, 2, 1)
	a.Fingerprint = "abcdef0123"
	b.Fingerprint = "abcdef9876"
	dup := a
	dup.Z = 1
	entries := []Entry{a, b, dup}

	t.Run("unique prefix", func(t *testing.T) {
		got, err := Resolve(entries, "ABCDEF01")
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.Z)
	})

	t.Run("duplicates of one model are not ambiguous", func(t *testing.T) {
		got, err := Resolve(entries, "abcdef0123")
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.Z)
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := Resolve(entries, "abcdef")
		var amb *AmbiguousError
		require.ErrorAs(t, err, &amb)
		assert.Equal(t, []string{"abcdef0123", "abcdef9876"}, amb.Matches)
		assert.Contains(t, amb.Describe(), "abcdef9876")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := Resolve(entries, "ffffff")
		var nf *NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Resolve(entries, "abc")
		assert.ErrorContains(t, err, "too short")
	})
}
