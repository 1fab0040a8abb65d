package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memHistory struct {
	entries []HistoryEntry
	saves   int
	err     error
}

func (m *memHistory) LoadHistory() ([]HistoryEntry, error) {
	return m.entries, nil
}

func (m *memHistory) AddHistory(entries []HistoryEntry) error {
	if m.err != nil {
		return m.err
	}
	m.saves++
next:
	for _, e := range entries {
		for i := range m.entries {
			if m.entries[i].Reading == e.Reading && m.entries[i].Word == e.Word {
				m.entries[i].Count += e.Count
				if e.LastUsed.After(m.entries[i].LastUsed) {
					m.entries[i].LastUsed = e.LastUsed
				}
				continue next
			}
		}
		m.entries = append(m.entries, e)
	}
	return nil
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	return NewLocal(LocalOptions{
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
}

func turnOn(t *testing.T, l *Local) {
	t.Helper()
	out, err := l.SendKey(Special(KeyOn))
	require.NoError(t, err)
	require.True(t, out.Consumed)
	require.Equal(t, ModeHiragana, *out.Mode)
}

func typeKeys(t *testing.T, l *Local, s string) *Output {
	t.Helper()
	var out *Output
	for _, r := range s {
		var err error
		out, err = l.SendKey(Key(r))
		require.NoError(t, err)
	}
	return out
}

func send(t *testing.T, l *Local, key SpecialKey) *Output {
	t.Helper()
	out, err := l.SendKey(Special(key))
	require.NoError(t, err)
	return out
}

func TestLocal_DirectModePassesKeys(t *testing.T) {
	l := newTestLocal(t)

	out, err := l.SendKey(Key('a'))
	require.NoError(t, err)
	assert.False(t, out.Consumed)
	assert.False(t, out.HasPreedit())
	assert.Equal(t, ModeDirect, *out.Mode)

	turnOn(t, l)
	assert.Equal(t, ModeHiragana, l.Mode())

	out = send(t, l, KeyOff)
	assert.True(t, out.Consumed)
	assert.Equal(t, ModeDirect, *out.Mode)
}

func TestLocal_Composition(t *testing.T) {
	l := newTestLocal(t)
	turnOn(t, l)

	out := typeKeys(t, l, "watasi")
	assert.True(t, out.Consumed)
	require.True(t, out.HasPreedit())
	assert.Equal(t, "わたし", out.Preedit.Text())
	require.Len(t, out.Preedit.Segments, 1)
	assert.Equal(t, AnnotationUnderline, out.Preedit.Segments[0].Annotation)
	assert.Equal(t, 3, out.Preedit.Segments[0].ValueLength)
	assert.Equal(t, 3, *out.Preedit.Cursor)
	assert.False(t, out.HasCandidates())

	out = typeKeys(t, l, "k")
	assert.Equal(t, "わたしk", out.Preedit.Text())
	out = send(t, l, KeyBackspace)
	assert.Equal(t, "わたし", out.Preedit.Text())
	out = send(t, l, KeyBackspace)
	assert.Equal(t, "わた", out.Preedit.Text())

	out = send(t, l, KeyEnter)
	require.True(t, out.HasResult())
	assert.Equal(t, "わた", out.Result.Value)
	assert.False(t, out.HasPreedit())
}

func TestLocal_Conversion(t *testing.T) {
	l := newTestLocal(t)
	turnOn(t, l)
	typeKeys(t, l, "watasi")

	out := send(t, l, KeySpace)
	require.True(t, out.HasPreedit())
	assert.Equal(t, "私", out.Preedit.Text())
	assert.Equal(t, AnnotationHighlight, out.Preedit.Segments[0].Annotation)
	require.True(t, out.HasCandidates())
	assert.Equal(t, 0, *out.Candidates.FocusedIndex)
	assert.Equal(t, "私", out.Candidates.Candidates[0].Value)
	assert.Equal(t, "1", out.Candidates.Candidates[0].Shortcut())
	assert.Equal(t, int32(0), *out.Candidates.Candidates[0].ID)
	assert.Equal(t, []string{"私", "渡し", "わたし", "ワタシ"}, candidateValues(out.Candidates))

	out = send(t, l, KeySpace)
	assert.Equal(t, "渡し", out.Preedit.Text())
	assert.Equal(t, 1, *out.Candidates.FocusedIndex)

	out = send(t, l, KeyUp)
	assert.Equal(t, "私", out.Preedit.Text())

	out = send(t, l, KeyEnter)
	require.True(t, out.HasResult())
	assert.Equal(t, "私", out.Result.Value)
	assert.Equal(t, "わたし", out.Result.Key)
	assert.False(t, out.HasPreedit())
	assert.False(t, out.HasCandidates())
}

func candidateValues(c *Candidates) []string {
	var out []string
	for _, cand := range c.Candidates {
		out = append(out, cand.Value)
	}
	return out
}

func TestLocal_SentenceConversion(t *testing.T) {
	l := newTestLocal(t)
	turnOn(t, l)
	typeKeys(t, l, "watasinonamaehanakanodesu.")

	out := send(t, l, KeySpace)
	require.True(t, out.HasPreedit())
	assert.Equal(t, "私の名前は中野です。", out.Preedit.Text())
	require.Len(t, out.Preedit.Segments, 7)
	assert.Equal(t, 0, *out.Preedit.HighlightedPosition)

	total := 0
	for _, seg := range out.Preedit.Segments {
		total += seg.ValueLength
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, 10, *out.Preedit.Cursor)

	out = send(t, l, KeyRight)
	assert.Equal(t, 1, *out.Preedit.HighlightedPosition)
	assert.Equal(t, AnnotationUnderline, out.Preedit.Segments[0].Annotation)
	assert.Equal(t, AnnotationHighlight, out.Preedit.Segments[1].Annotation)

	out = send(t, l, KeyEscape)
	assert.Equal(t, "わたしのなまえはなかのです。", out.Preedit.Text())
}

func TestLocal_Commands(t *testing.T) {
	l := newTestLocal(t)
	turnOn(t, l)

	t.Run("revert", func(t *testing.T) {
		typeKeys(t, l, "watasi")
		out, err := l.SendCommand(Revert())
		require.NoError(t, err)
		assert.False(t, out.HasPreedit())
		assert.False(t, out.HasResult())
	})

	t.Run("submit composition", func(t *testing.T) {
		typeKeys(t, l, "watasi")
		out, err := l.SendCommand(Submit())
		require.NoError(t, err)
		require.True(t, out.HasResult())
		assert.Equal(t, "わたし", out.Result.Value)
	})

	t.Run("submit empty", func(t *testing.T) {
		out, err := l.SendCommand(Submit())
		require.NoError(t, err)
		assert.False(t, out.Consumed)
		assert.False(t, out.HasResult())
	})

	t.Run("select candidate", func(t *testing.T) {
		typeKeys(t, l, "watasi")
		send(t, l, KeySpace)
		out, err := l.SendCommand(SelectCandidate(1))
		require.NoError(t, err)
		assert.True(t, out.Consumed)
		assert.Equal(t, "渡し", out.Preedit.Text())

		out, err = l.SendCommand(SelectCandidate(99))
		require.NoError(t, err)
		assert.False(t, out.Consumed)
		assert.Equal(t, "渡し", out.Preedit.Text())

		out, err = l.SendCommand(Submit())
		require.NoError(t, err)
		assert.Equal(t, "渡し", out.Result.Value)
	})

	t.Run("switch mode", func(t *testing.T) {
		out, err := l.SendCommand(SwitchInputMode(ModeFullKatakana))
		require.NoError(t, err)
		assert.Equal(t, ModeFullKatakana, *out.Mode)
		out = typeKeys(t, l, "ra-menn")
		assert.Equal(t, "ラーメン", out.Preedit.Text())

		_, err = l.SendCommand(SwitchInputMode(ModeHalfKatakana))
		require.NoError(t, err)
		out, err = l.SendCommand(Submit())
		require.NoError(t, err)
		assert.Equal(t, "ﾗｰﾒﾝ", out.Result.Value)

		_, err = l.SendCommand(SwitchInputMode(CompositionMode(42)))
		assert.ErrorIs(t, err, ErrUnknownEnumValue)
	})
}

func TestLocal_ShortcutSelection(t *testing.T) {
	l := newTestLocal(t)
	turnOn(t, l)
	typeKeys(t, l, "watasi")
	send(t, l, KeySpace)

	out := typeKeys(t, l, "2")
	assert.True(t, out.Consumed)
	assert.Equal(t, "渡し", out.Preedit.Text())

	// A printable key outside the label set commits and starts over.
	out = typeKeys(t, l, "k")
	require.True(t, out.HasResult())
	assert.Equal(t, "渡し", out.Result.Value)
	assert.Equal(t, "k", out.Preedit.Text())
}

func TestLocal_Punctuation(t *testing.T) {
	l := newTestLocal(t)
	cfg, err := l.GetConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Set("punctuation_method", "COMMA_PERIOD"))
	require.NoError(t, l.SetConfig(cfg))

	turnOn(t, l)
	out := typeKeys(t, l, "a,.")
	assert.Equal(t, "あ，．", out.Preedit.Text())
}

func TestLocal_KanaMethod(t *testing.T) {
	l := newTestLocal(t)
	cfg := DefaultConfig()
	cfg.PreeditMethod = PreeditKana
	require.NoError(t, l.SetConfig(cfg))
	turnOn(t, l)

	out, err := l.SendKey(KeyEvent{KeyCode: '3', KeyString: "あ"})
	require.NoError(t, err)
	assert.Equal(t, "あ", out.Preedit.Text())
}

func TestLocal_SpaceWithoutComposition(t *testing.T) {
	l := newTestLocal(t)
	turnOn(t, l)

	out := send(t, l, KeySpace)
	require.True(t, out.HasResult())
	assert.Equal(t, "　", out.Result.Value)

	cfg := DefaultConfig()
	cfg.SpaceCharacterForm = SpaceHalfWidth
	require.NoError(t, l.SetConfig(cfg))
	out = send(t, l, KeySpace)
	assert.False(t, out.Consumed)
}

func TestLocal_LearningAndSync(t *testing.T) {
	dir := t.TempDir()
	history := &memHistory{}
	cfgPath := filepath.Join(dir, "session.toml")
	l := NewLocal(LocalOptions{History: history, ConfigPath: cfgPath})
	turnOn(t, l)

	typeKeys(t, l, "watasi")
	send(t, l, KeySpace)
	send(t, l, KeySpace)
	out := send(t, l, KeyEnter)
	require.Equal(t, "渡し", out.Result.Value)

	typeKeys(t, l, "watasi")
	out = send(t, l, KeySpace)
	assert.Equal(t, "渡し", out.Preedit.Text(), "learned word ranks first")
	_, err := l.SendCommand(Revert())
	require.NoError(t, err)

	cfg, err := l.GetConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Set("selection_shortcut", "SHORTCUT_ASDFGHJKL"))
	require.NoError(t, l.SetConfig(cfg))

	require.NoError(t, l.SyncData())
	assert.Equal(t, 1, history.saves)
	require.Len(t, history.entries, 1)
	assert.Equal(t, "わたし", history.entries[0].Reading)
	assert.Equal(t, "渡し", history.entries[0].Word)
	assert.Equal(t, 1, history.entries[0].Count)

	// Nothing new learned: history is not rewritten.
	require.NoError(t, l.SyncData())
	assert.Equal(t, 1, history.saves)

	restored := NewLocal(LocalOptions{History: history, ConfigPath: cfgPath})
	cfg, err = restored.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, ShortcutASDFGHJKL, cfg.SelectionShortcut)

	turnOn(t, restored)
	typeKeys(t, restored, "watasi")
	out = send(t, restored, KeySpace)
	assert.Equal(t, "渡し", out.Preedit.Text())
	assert.Equal(t, "a", out.Candidates.Candidates[0].Shortcut())
}

func commitWatashi(t *testing.T, l *Local) {
	t.Helper()
	typeKeys(t, l, "watasi")
	if out := send(t, l, KeySpace); out.Preedit.Text() != "渡し" {
		send(t, l, KeySpace)
	}
	out := send(t, l, KeyEnter)
	require.Equal(t, "渡し", out.Result.Value)
}

func TestLocal_SharedHistoryAccumulates(t *testing.T) {
	history := &memHistory{}
	a := NewLocal(LocalOptions{History: history})
	b := NewLocal(LocalOptions{History: history})
	turnOn(t, a)
	turnOn(t, b)

	commitWatashi(t, a)
	commitWatashi(t, b)
	commitWatashi(t, b)

	require.NoError(t, a.SyncData())
	require.NoError(t, b.SyncData())
	require.Len(t, history.entries, 1)
	assert.Equal(t, 3, history.entries[0].Count)

	// Only what was learned since the last sync is sent again.
	commitWatashi(t, a)
	require.NoError(t, a.SyncData())
	assert.Equal(t, 4, history.entries[0].Count)
}

func TestLocal_SyncRetriesPendingHistory(t *testing.T) {
	history := &memHistory{err: errors.New("disk full")}
	l := NewLocal(LocalOptions{History: history})
	turnOn(t, l)
	commitWatashi(t, l)

	require.Error(t, l.SyncData())
	history.err = nil
	require.NoError(t, l.SyncData())
	require.NoError(t, l.SyncData())

	assert.Equal(t, 1, history.saves)
	require.Len(t, history.entries, 1)
	assert.Equal(t, 1, history.entries[0].Count)
}

func TestLocal_IncognitoDoesNotLearn(t *testing.T) {
	history := &memHistory{}
	l := NewLocal(LocalOptions{History: history})
	cfg := DefaultConfig()
	cfg.IncognitoMode = true
	require.NoError(t, l.SetConfig(cfg))
	turnOn(t, l)

	typeKeys(t, l, "watasi")
	send(t, l, KeySpace)
	send(t, l, KeySpace)
	send(t, l, KeyEnter)

	typeKeys(t, l, "watasi")
	out := send(t, l, KeySpace)
	assert.Equal(t, "私", out.Preedit.Text())

	require.NoError(t, l.SyncData())
	assert.Equal(t, 0, history.saves)
}

func TestLocal_SyncError(t *testing.T) {
	history := &memHistory{err: errors.New("disk full")}
	l := NewLocal(LocalOptions{History: history})
	turnOn(t, l)
	typeKeys(t, l, "watasi")
	send(t, l, KeySpace)
	send(t, l, KeyEnter)

	err := l.SyncData()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLocal_Closed(t *testing.T) {
	l := newTestLocal(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err := l.SendKey(Key('a'))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.SendCommand(Revert())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.EnsureConnection(), ErrClosed)
	assert.ErrorIs(t, l.SyncData(), ErrClosed)
}

func TestLocal_LaunchToolMissing(t *testing.T) {
	l := newTestLocal(t)
	assert.ErrorIs(t, l.LaunchTool("ConfigDialog", ""), ErrToolNotFound)

	l = NewLocal(LocalOptions{ToolPath: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, l.LaunchTool("ConfigDialog", ""), ErrToolNotFound)
}
