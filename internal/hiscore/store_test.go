package hiscore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/protomodels/pkg/protomodel"
)

func testEntry(mass, z float64, worker int) Entry {
	m := protomodel.Baseline(protomodel.DefaultParticles)
	m.Masses[1000006] = mass
	m.Decays[1000006] = protomodel.DecayTable{protomodel.NewChannel(protomodel.LSP, 6): 1}
	m.Z = z
	m.Step = int(mass)
	return NewEntry(m, worker)
}

func zs(entries []Entry) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.Z
	}
	return out
}

func TestStore_Offer(t *testing.T) {
	ctx := context.Background()
	s := NewStore(filepath.Join(t.TempDir(), "hiscore-0.json"), 3, time.Second)

	for i, z := range []float64{1.0, 3.0, 2.0} {
		kept, err := s.Offer(ctx, testEntry(400+float64(i), z, 0))
		require.NoError(t, err)
		assert.True(t, kept)
	}

	t.Run("keeps descending order", func(t *testing.T) {
		top, err := s.TopN(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []float64{3.0, 2.0, 1.0}, zs(top))
	})

	t.Run("rejects entry below a full list", func(t *testing.T) {
		kept, err := s.Offer(ctx, testEntry(500, 0.5, 0))
		require.NoError(t, err)
		assert.False(t, kept)
	})

	t.Run("evicts the worst entry", func(t *testing.T) {
		kept, err := s.Offer(ctx, testEntry(510, 2.5, 0))
		require.NoError(t, err)
		assert.True(t, kept)

		top, err := s.TopN(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []float64{3.0, 2.5, 2.0}, zs(top))
	})

	t.Run("dedupes by fingerprint", func(t *testing.T) {
		kept, err := s.Offer(ctx, testEntry(401, 2.9, 1))
		require.NoError(t, err)
		assert.False(t, kept, "same model already ranked higher")

		top, err := s.TopN(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, top, 2)
		assert.Equal(t, []float64{3.0, 2.5}, zs(top))
	})
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "none.json"), 5, time.Second)
	f, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.Raw)
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiscore.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewStore(path, 5, time.Second).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestStore_UnknownFieldsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiscore.json")
	doc := `{"version":1,"future":"x","raw":[{"model":{"masses":{"1000022":200,"1000006":500}},"Z":2.5,"extra":1}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	top, err := NewStore(path, 5, time.Second).TopN(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 2.5, top[0].Z)
	assert.NotEmpty(t, top[0].Fingerprint, "fingerprint is derived when absent")
}

func TestWithLock_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiscore.json")
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- WithLock(context.Background(), path, true, time.Second, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	s := NewStore(path, 5, 250*time.Millisecond)
	_, err := s.Offer(context.Background(), testEntry(500, 1, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	close(release)
	require.NoError(t, <-done)

	kept, err := s.Offer(context.Background(), testEntry(500, 1, 0))
	require.NoError(t, err)
	assert.True(t, kept, "lock is released after fn returns")
}

func TestWithLock_SharedReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiscore.json")
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- WithLock(context.Background(), path, false, time.Second, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := NewStore(path, 5, 250*time.Millisecond).Load(context.Background())
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func writeWorkerFile(t *testing.T, path string, entries ...Entry) {
	t.Helper()
	s := NewStore(path, 10, time.Second)
	for _, e := range entries {
		_, err := s.Offer(context.Background(), e)
		require.NoError(t, err)
	}
}

func fingerprints(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Fingerprint
	}
	return out
}

func TestMerge_CommutativeAndIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "hiscore-1.json")
	b := filepath.Join(dir, "hiscore-2.json")
	writeWorkerFile(t, a, testEntry(400, 1.5, 1), testEntry(410, 3.2, 1), testEntry(420, 2.2, 1))
	writeWorkerFile(t, b, testEntry(430, 2.7, 2), testEntry(410, 3.2, 2), testEntry(440, 0.4, 2))

	ab := NewStore(filepath.Join(dir, "ab.json"), 4, time.Second)
	ba := NewStore(filepath.Join(dir, "ba.json"), 4, time.Second)

	_, err := ab.Merge(ctx, []string{a, b})
	require.NoError(t, err)
	_, err = ba.Merge(ctx, []string{b, a})
	require.NoError(t, err)

	topAB, err := ab.TopN(ctx, 0)
	require.NoError(t, err)
	topBA, err := ba.TopN(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, fingerprints(topAB), fingerprints(topBA))
	assert.Equal(t, []float64{3.2, 2.7, 2.2, 1.5}, zs(topAB))

	report, err := ab.Merge(ctx, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Entries)
	again, err := ab.TopN(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, fingerprints(topAB), fingerprints(again))
}

func TestMerge_SkipsBadSources(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	good := filepath.Join(dir, "hiscore-1.json")
	corrupt := filepath.Join(dir, "hiscore-2.json")
	missing := filepath.Join(dir, "hiscore-3.json")
	locked := filepath.Join(dir, "hiscore-4.json")

	writeWorkerFile(t, good, testEntry(400, 2.0, 1))
	require.NoError(t, os.WriteFile(corrupt, []byte("garbage"), 0644))
	writeWorkerFile(t, locked, testEntry(450, 9.0, 4))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- WithLock(ctx, locked, true, time.Second, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer func() {
		close(release)
		<-done
	}()

	global := NewStore(GlobalPath(dir), 10, 200*time.Millisecond)
	report, err := global.Merge(ctx, []string{good, corrupt, missing, locked})
	require.NoError(t, err)

	assert.Equal(t, []string{good}, report.Merged)
	reasons := map[string]string{}
	for _, s := range report.Skipped {
		reasons[s.Path] = s.Reason
	}
	assert.Equal(t, map[string]string{corrupt: "corrupt", missing: "missing", locked: "locked"}, reasons)

	top, err := global.TopN(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.0}, zs(top))
}

func TestEntry_ToModel(t *testing.T) {
	e := testEntry(500, 3.0, 7)
	e.Combination = &protomodel.Combination{Analyses: []protomodel.AnalysisRef{{AnalysisID: "A"}}, Z: 3}

	m := e.ToModel()
	assert.Equal(t, 500.0, m.Mass(1000006))
	assert.Equal(t, 3.0, m.Z)
	assert.Equal(t, 500, m.Step)
	require.NotNil(t, m.Combination)
	assert.Equal(t, e.Fingerprint, m.Fingerprint())
}
