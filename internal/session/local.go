package session

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/width"

	"henkan/internal/dictionary"
	"henkan/internal/kana"
)

// HistoryEntry is one learned reading/word pair.
type HistoryEntry struct {
	Reading  string
	Word     string
	Count    int
	LastUsed time.Time
}

// HistoryStore persists learned conversions. Several sessions may share
// one store.
type HistoryStore interface {
	LoadHistory() ([]HistoryEntry, error)
	// AddHistory adds each entry's Count to the stored pair and keeps the
	// later LastUsed. Pairs not listed are left alone.
	AddHistory(entries []HistoryEntry) error
}

// LocalOptions configures an in-process session.
type LocalOptions struct {
	Dictionary *dictionary.Dictionary
	History    HistoryStore
	// ConfigPath is where SyncData writes the session configuration. Empty
	// disables config persistence.
	ConfigPath string
	// ToolPath is the auxiliary tool program started by LaunchTool.
	ToolPath string
	PageSize int
	Logger   *slog.Logger
	// Now is used for history timestamps.
	Now func() time.Time
}

// DefaultPageSize is the number of candidates shown per page.
const DefaultPageSize = 9

var shortcutLabels = map[SelectionShortcut][]string{
	Shortcut123456789: {"1", "2", "3", "4", "5", "6", "7", "8", "9"},
	ShortcutASDFGHJKL: {"a", "s", "d", "f", "g", "h", "j", "k", "l"},
}

type convSegment struct {
	reading    string
	candidates []string
	index      int
}

func (s *convSegment) value() string {
	return s.candidates[s.index]
}

// Local is an in-process conversion session. It composes kana from keys and
// converts readings segment by segment against a dictionary.
type Local struct {
	mu     sync.Mutex
	opts   LocalOptions
	logger *slog.Logger

	cfg    *Config
	mode   CompositionMode
	closed bool

	composer kana.Composer
	reading  string

	converting bool
	segments   []*convSegment
	focus      int

	learned map[string]map[string]*HistoryEntry
	// pending holds what was learned since the last successful sync.
	pending map[[2]string]*HistoryEntry
}

// NewLocal creates an in-process session. Persisted history and config are
// loaded when available; load failures are logged and otherwise ignored.
func NewLocal(opts LocalOptions) *Local {
	if opts.Dictionary == nil {
		opts.Dictionary = dictionary.Builtin()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Local{
		opts:    opts,
		logger:  opts.Logger.With("component", "session"),
		cfg:     DefaultConfig(),
		mode:    ModeDirect,
		learned: make(map[string]map[string]*HistoryEntry),
		pending: make(map[[2]string]*HistoryEntry),
	}
	if opts.ConfigPath != "" {
		if cfg, err := loadSessionConfig(opts.ConfigPath); err == nil {
			l.cfg = cfg
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("load session config", "path", opts.ConfigPath, "error", err)
		}
	}
	if opts.History != nil {
		entries, err := opts.History.LoadHistory()
		if err != nil {
			l.logger.Warn("load history", "error", err)
		}
		for i := range entries {
			e := l.entryFor(entries[i].Reading, entries[i].Word)
			e.Count = entries[i].Count
			e.LastUsed = entries[i].LastUsed
		}
	}
	return l
}

func (l *Local) entryFor(reading, word string) *HistoryEntry {
	words, ok := l.learned[reading]
	if !ok {
		words = make(map[string]*HistoryEntry)
		l.learned[reading] = words
	}
	e, ok := words[word]
	if !ok {
		e = &HistoryEntry{Reading: reading, Word: word}
		words[word] = e
	}
	return e
}

// SendKey implements Client.
func (l *Local) SendKey(key KeyEvent) (*Output, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	if l.mode == ModeDirect {
		if isTurnOnKey(key) {
			l.mode = ModeHiragana
			return l.output(true, nil), nil
		}
		return l.output(false, nil), nil
	}

	switch key.SpecialKey {
	case KeyOff:
		l.clear()
		l.mode = ModeDirect
		return l.output(true, nil), nil
	case KeyHankaku, KeyKanji:
		if key.Modifiers == 0 {
			l.clear()
			l.mode = ModeDirect
			return l.output(true, nil), nil
		}
	}

	if key.Modifiers&(ModCtrl|ModAlt) != 0 {
		return l.output(false, nil), nil
	}

	if l.converting {
		return l.convertingKey(key), nil
	}
	return l.composingKey(key), nil
}

func isTurnOnKey(key KeyEvent) bool {
	switch key.SpecialKey {
	case KeyOn, KeyHankaku, KeyKanji, KeyHenkan:
		return true
	}
	return false
}

func (l *Local) composing() bool {
	return l.reading != "" || l.composer.Pending() != ""
}

func (l *Local) composingKey(key KeyEvent) *Output {
	if !key.IsSpecial() {
		if key.KeyCode == 0 && key.KeyString == "" {
			return l.output(false, nil)
		}
		l.insert(key)
		return l.output(true, nil)
	}

	if !l.composing() {
		if key.SpecialKey == KeySpace {
			return l.insertSpace()
		}
		return l.output(false, nil)
	}

	switch key.SpecialKey {
	case KeySpace, KeyHenkan:
		if l.asciiMode() {
			l.reading += l.spaceChar()
			return l.output(true, nil)
		}
		l.startConversion()
	case KeyEnter:
		text, reading := l.preeditText(), l.reading
		l.clear()
		return l.output(true, &Result{Value: text, Key: reading})
	case KeyEscape:
		l.clear()
	case KeyBackspace:
		if !l.composer.Backspace() {
			_, size := utf8.DecodeLastRuneInString(l.reading)
			l.reading = l.reading[:len(l.reading)-size]
		}
	}
	return l.output(true, nil)
}

func (l *Local) insertSpace() *Output {
	if l.cfg.SpaceCharacterForm == SpaceHalfWidth || l.mode == ModeHalfASCII || l.mode == ModeHalfKatakana {
		return l.output(false, nil)
	}
	return l.output(true, &Result{Value: "　"})
}

func (l *Local) spaceChar() string {
	if l.mode == ModeFullASCII && l.cfg.SpaceCharacterForm != SpaceHalfWidth {
		return "　"
	}
	return " "
}

func (l *Local) asciiMode() bool {
	return l.mode == ModeHalfASCII || l.mode == ModeFullASCII
}

func (l *Local) insert(key KeyEvent) {
	if l.asciiMode() {
		if key.KeyCode != 0 {
			l.reading += string(key.KeyCode)
		}
		return
	}
	if l.cfg.PreeditMethod == PreeditKana && key.KeyString != "" {
		l.reading += l.composer.Flush() + key.KeyString
		return
	}
	switch key.KeyCode {
	case ',', '.':
		l.reading += l.composer.Flush() + l.punctuation(key.KeyCode)
		return
	}
	l.reading += l.composer.Feed(key.KeyCode)
}

func (l *Local) punctuation(r rune) string {
	comma, period := "、", "。"
	switch l.cfg.PunctuationMethod {
	case PunctuationCommaPeriod:
		comma, period = "，", "．"
	case PunctuationKutenPeriod:
		period = "．"
	case PunctuationCommaTouten:
		comma = "，"
	}
	if r == ',' {
		return comma
	}
	return period
}

// display renders kana in the current mode's script.
func (l *Local) display(s string) string {
	switch l.mode {
	case ModeFullKatakana:
		return kana.ToKatakana(s)
	case ModeHalfKatakana:
		return width.Narrow.String(kana.ToKatakana(s))
	case ModeFullASCII:
		return width.Widen.String(s)
	}
	return s
}

func (l *Local) preeditText() string {
	if l.converting {
		var b strings.Builder
		for _, seg := range l.segments {
			b.WriteString(seg.value())
		}
		return b.String()
	}
	return l.display(l.reading + l.composer.Pending())
}

func (l *Local) startConversion() {
	l.reading += l.composer.Flush()
	pieces := l.opts.Dictionary.Segment(l.reading)
	l.segments = l.segments[:0]
	for _, piece := range pieces {
		l.segments = append(l.segments, &convSegment{reading: piece, candidates: l.candidatesFor(piece)})
	}
	l.focus = 0
	l.converting = len(l.segments) > 0
}

// candidatesFor lists learned words first, then dictionary words, then the
// reading itself in hiragana and katakana.
func (l *Local) candidatesFor(reading string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	if l.cfg.UseHistorySuggest && l.cfg.HistoryLearningLevel != HistoryNone {
		learned := make([]*HistoryEntry, 0, len(l.learned[reading]))
		for _, e := range l.learned[reading] {
			learned = append(learned, e)
		}
		sort.Slice(learned, func(i, j int) bool {
			if learned[i].Count != learned[j].Count {
				return learned[i].Count > learned[j].Count
			}
			return learned[i].LastUsed.After(learned[j].LastUsed)
		})
		for _, e := range learned {
			add(e.Word)
		}
	}
	for _, e := range l.opts.Dictionary.Lookup(reading) {
		add(e.Word)
	}
	add(l.display(reading))
	add(reading)
	add(kana.ToKatakana(reading))
	return out
}

func (l *Local) convertingKey(key KeyEvent) *Output {
	seg := l.segments[l.focus]
	if !key.IsSpecial() {
		if n, ok := l.shortcutIndex(key.KeyCode, seg); ok {
			seg.index = n
			return l.output(true, nil)
		}
		result := l.commitConversion()
		l.insert(key)
		return l.output(true, result)
	}

	switch key.SpecialKey {
	case KeySpace, KeyDown, KeyHenkan:
		seg.index = (seg.index + 1) % len(seg.candidates)
	case KeyUp:
		seg.index = (seg.index - 1 + len(seg.candidates)) % len(seg.candidates)
	case KeyRight:
		if l.focus < len(l.segments)-1 {
			l.focus++
		}
	case KeyLeft:
		if l.focus > 0 {
			l.focus--
		}
	case KeyEnter:
		return l.output(true, l.commitConversion())
	case KeyEscape, KeyBackspace:
		l.converting = false
		l.segments = nil
	}
	return l.output(true, nil)
}

func (l *Local) shortcutIndex(r rune, seg *convSegment) (int, bool) {
	labels := shortcutLabels[l.cfg.SelectionShortcut]
	for i, label := range labels {
		if label == string(r) {
			n := seg.index/l.opts.PageSize*l.opts.PageSize + i
			if i < l.opts.PageSize && n < len(seg.candidates) {
				return n, true
			}
			return 0, false
		}
	}
	return 0, false
}

func (l *Local) commitConversion() *Result {
	var value strings.Builder
	var reading strings.Builder
	now := l.opts.Now()
	for _, seg := range l.segments {
		value.WriteString(seg.value())
		reading.WriteString(seg.reading)
		if l.cfg.Learning() {
			l.learn(seg.reading, seg.value(), now)
		}
	}
	l.clear()
	return &Result{Value: value.String(), Key: reading.String()}
}

func (l *Local) learn(reading, word string, now time.Time) {
	e := l.entryFor(reading, word)
	e.Count++
	e.LastUsed = now

	key := [2]string{reading, word}
	p, ok := l.pending[key]
	if !ok {
		p = &HistoryEntry{Reading: reading, Word: word}
		l.pending[key] = p
	}
	p.Count++
	p.LastUsed = now
}

func (l *Local) clear() {
	l.composer.Reset()
	l.reading = ""
	l.converting = false
	l.segments = nil
	l.focus = 0
}

func (l *Local) output(consumed bool, result *Result) *Output {
	mode := l.mode
	out := &Output{Consumed: consumed, Result: result, Mode: &mode}
	if l.converting {
		out.Preedit = l.conversionPreedit()
		out.Candidates = l.candidateWindow()
	} else if l.composing() {
		text := l.preeditText()
		n := utf8.RuneCountInString(text)
		out.Preedit = &Preedit{
			Segments: []Segment{NewSegment(text, AnnotationUnderline)},
			Cursor:   Ptr(n),
		}
	}
	return out
}

func (l *Local) conversionPreedit() *Preedit {
	p := &Preedit{}
	pos, highlighted := 0, 0
	for i, seg := range l.segments {
		ann := AnnotationUnderline
		if i == l.focus {
			ann = AnnotationHighlight
			highlighted = pos
		}
		s := NewSegment(seg.value(), ann)
		p.Segments = append(p.Segments, s)
		pos += s.ValueLength
	}
	p.Cursor = Ptr(pos)
	p.HighlightedPosition = Ptr(highlighted)
	return p
}

func (l *Local) candidateWindow() *Candidates {
	seg := l.segments[l.focus]
	size := l.opts.PageSize
	start := seg.index / size * size
	end := min(start+size, len(seg.candidates))
	labels := shortcutLabels[l.cfg.SelectionShortcut]

	c := &Candidates{Size: len(seg.candidates), FocusedIndex: Ptr(seg.index)}
	for i := start; i < end; i++ {
		cand := Candidate{Index: i, Value: seg.candidates[i], ID: Ptr(int32(i))}
		if pos := i - start; pos < len(labels) {
			cand.Annotation = &CandidateAnnotation{Shortcut: labels[pos]}
		}
		c.Candidates = append(c.Candidates, cand)
	}
	return c
}

// SendCommand implements Client.
func (l *Local) SendCommand(cmd SessionCommand) (*Output, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	switch cmd.Type {
	case CommandRevert:
		l.clear()
		return l.output(true, nil), nil
	case CommandSubmit:
		switch {
		case l.converting:
			return l.output(true, l.commitConversion()), nil
		case l.composing():
			text, reading := l.preeditText(), l.reading
			l.clear()
			return l.output(true, &Result{Value: text, Key: reading}), nil
		}
		return l.output(false, nil), nil
	case CommandSelectCandidate:
		if !l.converting {
			return l.output(false, nil), nil
		}
		seg := l.segments[l.focus]
		if cmd.ID < 0 || int(cmd.ID) >= len(seg.candidates) {
			return l.output(false, nil), nil
		}
		seg.index = int(cmd.ID)
		return l.output(true, nil), nil
	case CommandSwitchInputMode:
		if _, ok := modeNames[cmd.Mode]; !ok {
			return nil, fmt.Errorf("switch input mode: %w", ErrUnknownEnumValue)
		}
		l.mode = cmd.Mode
		return l.output(true, nil), nil
	default:
		return nil, fmt.Errorf("unknown command %s", cmd.Type)
	}
}

// GetConfig implements Client.
func (l *Local) GetConfig() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.cfg.Clone(), nil
}

// SetConfig implements Client.
func (l *Local) SetConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("session: nil config")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.cfg = cfg.Clone()
	return nil
}

// SyncData writes learned history and the session config.
func (l *Local) SyncData() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.syncLocked()
}

func (l *Local) syncLocked() error {
	var errs []error
	if l.opts.History != nil && len(l.pending) > 0 {
		if err := l.opts.History.AddHistory(l.pendingHistory()); err != nil {
			errs = append(errs, fmt.Errorf("save history: %w", err))
		} else {
			clear(l.pending)
		}
	}
	if l.opts.ConfigPath != "" {
		if err := saveSessionConfig(l.opts.ConfigPath, l.cfg); err != nil {
			errs = append(errs, fmt.Errorf("save config: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (l *Local) pendingHistory() []HistoryEntry {
	out := make([]HistoryEntry, 0, len(l.pending))
	for _, e := range l.pending {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reading != out[j].Reading {
			return out[i].Reading < out[j].Reading
		}
		return out[i].Word < out[j].Word
	})
	return out
}

// EnsureConnection implements Client. An in-process session is always
// connected until closed.
func (l *Local) EnsureConnection() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// LaunchTool starts "<tool> --mode=<name> [arg]" without waiting for it.
func (l *Local) LaunchTool(name, arg string) error {
	path := l.opts.ToolPath
	if path == "" {
		return ErrToolNotFound
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrToolNotFound, path)
	}
	args := []string{"--mode=" + name}
	if arg != "" {
		args = append(args, arg)
	}
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	l.logger.Debug("tool launched", "tool", name, "pid", cmd.Process.Pid)
	return nil
}

// Close syncs and releases the session.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	err := l.syncLocked()
	l.closed = true
	return err
}

// Mode returns the session's composition mode.
func (l *Local) Mode() CompositionMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func loadSessionConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func saveSessionConfig(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
