package ime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"henkan/internal/keymap"
	"henkan/internal/metrics"
	"henkan/internal/render"
	"henkan/internal/session"
)

// DefaultSyncInterval is the minimum time between two non-forced syncs.
const DefaultSyncInterval = 5 * time.Minute

// DefaultSettingsSection is the host config section the engine listens to.
const DefaultSettingsSection = "engine/Henkan"

// JapaneseLayoutEngine is the engine name that selects the JIS layout.
const JapaneseLayoutEngine = "henkan-jp"

// Options configures an Engine.
type Options struct {
	Client     session.Client
	Translator keymap.Translator
	// TurnOn decides which keys reach the session in direct mode.
	TurnOn keymap.TurnOnFunc
	Host   Host
	Logger *slog.Logger

	// EngineName is the name the host created the engine with.
	EngineName      string
	InitialMode     session.CompositionMode
	SyncInterval    time.Duration
	PageSize        uint32
	SettingsSection string
	// ToolsAvailable adds the tool menu to the property tree.
	ToolsAvailable bool
	IconDir        string

	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Engine is the input-method engine adapter. It translates host key events
// into session requests and renders session output back to the host.
//
// Host callbacks are serialized by an internal mutex; each one runs its
// session round trips and host updates to completion before returning.
type Engine struct {
	mu sync.Mutex

	client     session.Client
	translator keymap.Translator
	turnOn     keymap.TurnOnFunc
	host       Host
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	syncInterval    time.Duration
	pageSize        uint32
	settingsSection string
	layoutIsJP      bool

	active        bool
	mode          session.CompositionMode
	preeditMethod session.PreeditMethod
	lastSync      time.Time
	candidateIDs  []int32
	props         *propertyTree
	closed        bool
}

// NewEngine creates an engine in the Inactive state.
func NewEngine(opts Options) *Engine {
	if opts.Translator == nil {
		opts.Translator = keymap.NewX11Translator()
	}
	if opts.TurnOn == nil {
		opts.TurnOn = keymap.DefaultTurnOn()
	}
	if opts.Host == nil {
		opts.Host = NopHost{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.PageSize == 0 {
		opts.PageSize = render.DefaultPageSize
	}
	if opts.SettingsSection == "" {
		opts.SettingsSection = DefaultSettingsSection
	}

	return &Engine{
		client:          opts.Client,
		translator:      opts.Translator,
		turnOn:          opts.TurnOn,
		host:            opts.Host,
		logger:          opts.Logger.With("component", "engine"),
		metrics:         opts.Metrics,
		now:             opts.Now,
		syncInterval:    opts.SyncInterval,
		pageSize:        opts.PageSize,
		settingsSection: opts.SettingsSection,
		layoutIsJP:      opts.EngineName == JapaneseLayoutEngine,
		mode:            opts.InitialMode,
		preeditMethod:   session.PreeditRoman,
		lastSync:        opts.Now(),
		props:           newPropertyTree(opts.InitialMode, opts.ToolsAvailable, opts.IconDir),
	}
}

// SetHost replaces the display host. Bindings that create the host after
// the engine use this before the first callback.
func (e *Engine) SetHost(h Host) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		h = NopHost{}
	}
	e.host = h
}

// SetEngineName records the name the host activated the engine under.
func (e *Engine) SetEngineName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layoutIsJP = name == JapaneseLayoutEngine
}

// Enable activates the engine: the session connection is made live, the
// preedit method is refreshed, and any stale in-session preedit is dropped.
// Host-level mode hotkeys can switch engines without Disable, so the revert
// is unconditional.
func (e *Engine) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.EnsureConnection(); err != nil {
		e.sessionError("ensure_connection", err)
	}
	e.updatePreeditMethod()
	e.revertSession()
	e.active = true
	e.logger.Debug("enabled", "mode", e.mode)
}

// Disable reverts the session and deactivates the engine.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.revertSession()
	e.active = false
}

// FocusIn registers the panel properties with the host.
func (e *Engine) FocusIn() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.host.RegisterProperties(e.props.snapshot())
}

// FocusOut reverts the session and syncs if the interval has passed.
func (e *Engine) FocusOut() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.revertSession()
	e.syncData(false)
}

// Reset reverts the session.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.revertSession()
}

// ProcessKeyEvent handles a key from the host and reports whether the engine
// consumed it.
func (e *Engine) ProcessKeyEvent(keyval, keycode, state uint32) bool {
	if state&keymap.IBusReleaseMask != 0 {
		e.metrics.KeyEvent(metrics.KeyRelease)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key, err := e.translator.Translate(keyval, keycode, state, e.preeditMethod, e.layoutIsJP)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, keymap.ErrModifierKey) {
			level = slog.LevelDebug
		}
		e.logger.Log(context.Background(), level, "translate key", "keyval", keyval, "keycode", keycode, "state", state, "error", err)
		e.metrics.KeyEvent(metrics.KeyUnmappable)
		return false
	}

	if e.mode == session.ModeDirect && !e.turnOn(key) {
		e.metrics.KeyEvent(metrics.KeyDirect)
		return false
	}

	out, err := e.client.SendKey(key)
	if err != nil {
		e.sessionError("send_key", err, "key", key.String())
		e.metrics.KeyEvent(metrics.KeySessionFailure)
		return false
	}
	e.logger.Debug("key", "key", key.String(), "consumed", out.Consumed)

	e.updateAll(out)
	if out.Consumed {
		e.metrics.KeyEvent(metrics.KeyConsumed)
	} else {
		e.metrics.KeyEvent(metrics.KeyPassed)
	}
	return out.Consumed
}

// SetCompositionMode switches the session mode. Switching to direct mode
// commits the pending preedit first.
func (e *Engine) SetCompositionMode(mode session.CompositionMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setCompositionMode(mode)
}

func (e *Engine) setCompositionMode(mode session.CompositionMode) {
	if mode == session.ModeDirect {
		out, err := e.client.SendCommand(session.Submit())
		if err != nil {
			e.sessionError("submit", err)
		} else {
			e.updateAll(out)
		}
	} else {
		if _, err := e.client.SendCommand(session.SwitchInputMode(mode)); err != nil {
			e.sessionError("switch_input_mode", err, "mode", mode)
		}
	}
	// Optimistic: reconciled when an output carries a mode.
	e.mode = mode
	e.metrics.ModeSwitch(mode.String())
}

// CandidateClicked selects the candidate at a row of the last rendered
// table. Rows without an id are ignored.
func (e *Engine) CandidateClicked(index, button, state uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(index) >= len(e.candidateIDs) {
		return
	}
	id := e.candidateIDs[index]
	if id == render.BadCandidateID {
		return
	}

	out, err := e.client.SendCommand(session.SelectCandidate(id))
	if err != nil {
		e.sessionError("select_candidate", err, "id", id)
		return
	}
	e.metrics.CandidateClick()
	e.updateAll(out)
}

// PropertyActivate handles a click on a panel property. Tool items launch
// their tool. Composition mode items act only when checked; the engine
// switches mode and re-checks the radio group. Unknown keys are ignored,
// as hosts broadcast activations for properties of other engines.
func (e *Engine) PropertyActivate(name string, state uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.propertyActivate(name, PropState(state))
}

func (e *Engine) propertyActivate(name string, state PropState) {
	if e.props.hasTool(name) {
		if err := e.client.LaunchTool(name, ""); err != nil {
			e.sessionError("launch_tool", err, "tool", name)
		}
		return
	}

	if state != PropChecked {
		return
	}

	entry, ok := modeEntryForKey(name)
	if !ok {
		e.logger.Debug("ignoring foreign property", "key", name)
		return
	}
	e.setCompositionMode(entry.Mode)
	e.props.check(entry)
	e.host.UpdateProperty(e.props.modeMenu().Clone())
}

// SetCursorLocation is accepted and ignored.
func (e *Engine) SetCursorLocation(x, y, w, h int32) {}

// SetCapabilities is accepted and ignored.
func (e *Engine) SetCapabilities(caps uint32) {}

// Close forces a final sync and closes the session. Later calls do nothing.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.syncData(true)
	return e.client.Close()
}

// Mode returns the engine's view of the composition mode.
func (e *Engine) Mode() session.CompositionMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// PreeditMethod returns the preedit method used for key translation.
func (e *Engine) PreeditMethod() session.PreeditMethod {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preeditMethod
}

// Active reports whether the engine is enabled.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// CandidateIDs returns a copy of the ids of the last rendered table.
func (e *Engine) CandidateIDs() []int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int32(nil), e.candidateIDs...)
}

// Properties returns a copy of the property tree.
func (e *Engine) Properties() []Property {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props.snapshot()
}

func (e *Engine) updatePreeditMethod() {
	cfg, err := e.client.GetConfig()
	if err != nil {
		e.sessionError("get_config", err)
		return
	}
	e.preeditMethod = cfg.PreeditMethod
}

func (e *Engine) revertSession() {
	out, err := e.client.SendCommand(session.Revert())
	if err != nil {
		e.sessionError("revert", err)
		return
	}
	e.updateAll(out)
}

// syncData calls the session's SyncData when forced or when syncInterval
// has passed since the last successful sync. A clock that went backwards
// postpones the sync.
func (e *Engine) syncData(force bool) {
	now := e.now()
	if !force {
		elapsed := now.Sub(e.lastSync)
		if elapsed < 0 || elapsed < e.syncInterval {
			e.metrics.Sync(metrics.SyncSkipped)
			return
		}
	}
	if err := e.client.SyncData(); err != nil {
		e.sessionError("sync_data", err)
		e.metrics.Sync(metrics.SyncError)
		return
	}
	e.lastSync = now
	e.metrics.Sync(metrics.SyncOK)
}

func (e *Engine) sessionError(op string, err error, args ...any) {
	e.logger.Error("session call failed", append([]any{"op", op, "error", err}, args...)...)
	e.metrics.SessionError(op)
}

// updateAll renders an output to the host: result, preedit, candidates,
// then composition mode.
func (e *Engine) updateAll(out *session.Output) {
	if out == nil {
		out = &session.Output{}
	}
	e.updateResult(out)
	e.updatePreedit(out)
	e.updateCandidates(out)
	e.updateCompositionMode(out)
}

func (e *Engine) updateResult(out *session.Output) {
	if !out.HasResult() {
		return
	}
	e.host.CommitText(render.PlainText(out.Result.Value))
}

func (e *Engine) updatePreedit(out *session.Output) {
	if !out.HasPreedit() {
		e.host.HidePreeditText()
		return
	}
	text, cursor := render.ComposePreedit(out.Preedit)
	e.host.UpdatePreeditText(text, cursor, true)
}

func (e *Engine) updateCandidates(out *session.Output) {
	if !out.HasCandidates() {
		e.candidateIDs = nil
		e.host.HideAuxiliaryText()
		e.host.HideLookupTable()
		return
	}
	table, ids := render.ComposeCandidates(out.Candidates, e.pageSize)
	e.candidateIDs = ids
	if aux, ok := render.ComposeAuxiliaryText(out.Candidates); ok {
		e.host.UpdateAuxiliaryText(aux, true)
	} else {
		e.host.HideAuxiliaryText()
	}
	e.host.UpdateLookupTable(table, true)
}

// updateCompositionMode follows a mode reported by the session as if the
// user had checked the matching menu entry. The local mode is set first so
// that output produced by the switch itself does not trigger another one.
func (e *Engine) updateCompositionMode(out *session.Output) {
	if !out.HasMode() || *out.Mode == e.mode {
		return
	}
	entry, ok := modeEntryForMode(*out.Mode)
	if !ok {
		e.logger.Error("session reported unknown mode", "mode", int32(*out.Mode))
		return
	}
	e.mode = entry.Mode
	e.propertyActivate(entry.Key, PropChecked)
}
