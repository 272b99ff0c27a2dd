package uistate

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/fabrix/internal/timeline"
)

func TestApplyPatchMergesShallowly(t *testing.T) {
	m := NewManager(nil)

	ev := m.ApplyPatch("s1", map[string]any{"kb_id": "kb-1", "grid": map[string]any{"sort": "asc"}}, 1)
	assert.Equal(t, 1, ev.Version)
	assert.False(t, ev.UpdatedAt.IsZero())

	m.ApplyPatch("s1", map[string]any{"grid": map[string]any{"filter": "x"}}, 2)

	state := m.State("s1")
	assert.Equal(t, "kb-1", state["kb_id"])
	assert.Equal(t, map[string]any{"filter": "x"}, state["grid"])
	assert.Equal(t, 2, m.Version("s1"))
	assert.Len(t, m.Events("s1"), 2)
}

func TestUnknownSessionIsEmpty(t *testing.T) {
	m := NewManager(nil)
	assert.Empty(t, m.State("nobody"))
	assert.Equal(t, 0, m.Version("nobody"))
	assert.Empty(t, m.Events("nobody"))
}

func TestStateReturnsCopies(t *testing.T) {
	m := NewManager(nil)
	patch := map[string]any{"a": 1}
	m.ApplyPatch("s", patch, 1)
	patch["a"] = 99

	state := m.State("s")
	state["b"] = 2

	assert.Equal(t, map[string]any{"a": 1}, m.State("s"))
	assert.Equal(t, 1, m.Events("s")[0].Patch["a"])
}

func TestConcurrentPatches(t *testing.T) {
	m := NewManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.ApplyPatch("s", map[string]any{"k": i}, i)
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.Events("s"), 50)
}

func TestApplyPatchNextAssignsUniqueVersions(t *testing.T) {
	m := NewManager(nil)
	m.ApplyPatch("s", map[string]any{"kb_id": "kb-1"}, 3)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.ApplyPatchNext("s", map[string]any{"k": i})
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, ev := range m.Events("s")[1:] {
		require.False(t, seen[ev.Version], "duplicate version %d", ev.Version)
		seen[ev.Version] = true
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 53, m.Version("s"))
	assert.Equal(t, "kb-1", m.State("s")["kb_id"])
}

func TestTimelineJournalRestoresState(t *testing.T) {
	tl, err := timeline.NewTimelineService(filepath.Join(t.TempDir(), "timeline.db"))
	require.NoError(t, err)
	defer tl.Close()

	first := NewManager(NewTimelineJournal(tl))
	first.ApplyPatch("s1", map[string]any{"kb_id": "kb"}, 1)
	first.ApplyPatch("s1", map[string]any{"page": 2}, 2)

	second := NewManager(NewTimelineJournal(tl))
	state := second.State("s1")
	assert.Equal(t, "kb", state["kb_id"])
	assert.EqualValues(t, 2, state["page"])
	assert.Equal(t, 2, second.Version("s1"))
	assert.Len(t, second.Events("s1"), 2)
}

type failingJournal struct{}

func (failingJournal) Append(PatchEvent) error { return errors.New("disk full") }
func (failingJournal) Load(string) ([]PatchEvent, error) {
	return nil, errors.New("unavailable")
}

func TestJournalFailuresAreBestEffort(t *testing.T) {
	m := NewManager(failingJournal{})
	ev := m.ApplyPatch("s", map[string]any{"a": 1}, 1)
	assert.Equal(t, 1, ev.Version)
	assert.Equal(t, map[string]any{"a": 1}, m.State("s"))
}
