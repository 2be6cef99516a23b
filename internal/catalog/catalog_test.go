package catalog

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dartlas/internal/config"
	"github.com/banshee-data/dartlas/internal/convert"
	"github.com/banshee-data/dartlas/internal/monitoring"
	"github.com/banshee-data/dartlas/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(&Run{InputPath: "a.bin", OutputPath: "a.las", DigitizerGain: 2}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.SetClock(clock)

	cfg := config.DefaultRunConfig()
	cfg.PointFormat = config.PtrInt(4)
	cfg.Waveform = config.PtrBool(true)
	summary := &convert.Summary{
		Input:         "scene.bin",
		Output:        "scene.las",
		Pulses:        10,
		EmptyPulses:   2,
		SkippedPulses: 1,
		DroppedEchoes: 3,
		Points:        14,
		WavePackets:   7,
		Gain:          25.5,
		Offset:        1,
		EchoCounts:    []int{2, 4, 3},
		Elapsed:       1500 * time.Millisecond,
	}
	run, err := RunFromSummary(summary, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Insert(run))
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, clock.Now().UnixNano(), run.CreatedAtNs)

	got, err := s.Get(run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	var stored config.RunConfig
	require.NoError(t, json.Unmarshal(got.ConfigJSON, &stored))
	assert.Equal(t, 4, stored.GetPointFormat())
	assert.True(t, stored.GetWaveform())
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("nope")
	assert.ErrorContains(t, err, "run not found")
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for i, name := range []string{"first", "second", "third"} {
		require.NoError(t, s.Insert(&Run{
			RunID:         name,
			InputPath:     name + ".bin",
			OutputPath:    name + ".las",
			DigitizerGain: 1,
			CreatedAtNs:   int64(i+1) * 1000,
		}))
	}

	runs, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].RunID)
	assert.Equal(t, "second", runs[1].RunID)
	assert.Nil(t, runs[0].ConfigJSON)
	assert.Nil(t, runs[0].EchoCounts)

	runs, err = s.List(0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
