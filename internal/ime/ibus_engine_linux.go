//go:build linux

package ime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
)

// ErrBusDisconnected is returned by Run when the bus connection goes away.
var ErrBusDisconnected = errors.New("ibus: bus disconnected")

// IBusConfig configures the IBus binding.
type IBusConfig struct {
	// Address of the IBus bus. Empty uses $IBUS_ADDRESS, then the session
	// bus.
	Address string

	// BusName is requested on the bus. ibus-daemon finds the engine
	// through it when the component is started with --ibus.
	BusName string

	// EngineNames lists the engine names CreateEngine accepts.
	EngineNames []string

	// SettingsSection filters IBus config ValueChanged signals. Empty
	// accepts all sections and lets the engine filter.
	SettingsSection string
}

// DefaultIBusConfig returns the standard bus name and engine names.
func DefaultIBusConfig() IBusConfig {
	return IBusConfig{
		BusName:     HenkanBusName,
		EngineNames: []string{HenkanEngineName, JapaneseLayoutEngine},
	}
}

// IBusBinding exports one injected Engine on the IBus bus. Every engine
// object created by the factory delegates to it.
type IBusBinding struct {
	engine *Engine
	config IBusConfig
	logger *slog.Logger

	conn *dbus.Conn

	mu       sync.Mutex
	engineID uint32
	objects  map[dbus.ObjectPath]*ibusEngineObject
}

// NewIBusBinding creates the binding for engine.
func NewIBusBinding(engine *Engine, config IBusConfig, logger *slog.Logger) *IBusBinding {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BusName == "" {
		config.BusName = HenkanBusName
	}
	if len(config.EngineNames) == 0 {
		config.EngineNames = []string{HenkanEngineName, JapaneseLayoutEngine}
	}
	return &IBusBinding{
		engine:  engine,
		config:  config,
		logger:  logger.With("component", "ibus"),
		objects: make(map[dbus.ObjectPath]*ibusEngineObject),
	}
}

func (b *IBusBinding) connect() (*dbus.Conn, error) {
	addr := b.config.Address
	if addr == "" {
		addr = os.Getenv("IBUS_ADDRESS")
	}
	if addr == "" {
		return dbus.SessionBus()
	}
	return dbus.Connect(addr)
}

// Start connects to the bus, requests the bus name and exports the factory.
func (b *IBusBinding) Start() error {
	conn, err := b.connect()
	if err != nil {
		return fmt.Errorf("failed to connect to ibus: %w", err)
	}
	b.conn = conn

	reply, err := conn.RequestName(b.config.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", b.config.BusName)
	}

	factory := &ibusFactory{binding: b}
	if err := conn.Export(factory, IBusFactoryPath, IBusFactoryInterface); err != nil {
		return fmt.Errorf("failed to export factory: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(IBusConfigInterface),
		dbus.WithMatchMember("ValueChanged"),
	); err != nil {
		b.logger.Warn("config change notifications unavailable", "error", err)
	}

	b.logger.Info("ibus engine started", "bus_name", b.config.BusName, "engines", b.config.EngineNames)
	return nil
}

// Run dispatches IBus config change signals to the engine until ctx is done
// or the bus disconnects. A disconnect returns ErrBusDisconnected so the
// process can exit.
func (b *IBusBinding) Run(ctx context.Context) error {
	if b.conn == nil {
		return errors.New("ibus: not started")
	}
	signals := make(chan *dbus.Signal, 16)
	b.conn.Signal(signals)
	defer b.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return ErrBusDisconnected
			}
			b.handleSignal(sig)
		case <-b.conn.Context().Done():
			return ErrBusDisconnected
		}
	}
}

func (b *IBusBinding) handleSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}
	section, name, value, ok := parseValueChanged(sig)
	if !ok {
		return
	}
	if b.config.SettingsSection != "" && section != b.config.SettingsSection {
		return
	}
	b.engine.OnConfigChanged(section, name, value)
}

// parseValueChanged decodes org.freedesktop.IBus.Config.ValueChanged
// (section s, name s, value v).
func parseValueChanged(sig *dbus.Signal) (section, name string, value any, ok bool) {
	if sig.Name != IBusConfigInterface+".ValueChanged" || len(sig.Body) != 3 {
		return "", "", nil, false
	}
	section, ok1 := sig.Body[0].(string)
	name, ok2 := sig.Body[1].(string)
	if !ok1 || !ok2 {
		return "", "", nil, false
	}
	switch v := sig.Body[2].(type) {
	case dbus.Variant:
		value = v.Value()
	default:
		value = v
	}
	return section, name, value, true
}

// Stop closes the engine and the bus connection.
func (b *IBusBinding) Stop() error {
	err := b.engine.Close()
	if b.conn != nil {
		if cerr := b.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (b *IBusBinding) acceptsEngine(name string) bool {
	for _, n := range b.config.EngineNames {
		if n == name {
			return true
		}
	}
	return false
}

func (b *IBusBinding) createEngine(name string) (dbus.ObjectPath, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.engineID++
	path := dbus.ObjectPath(fmt.Sprintf("%s/Engine/%d", IBusPath, b.engineID))
	obj := &ibusEngineObject{
		binding: b,
		name:    name,
		path:    path,
		host:    NewIBusHost(b.conn, path, b.logger),
	}
	if err := b.conn.Export(obj, path, IBusEngineInterface); err != nil {
		return "", err
	}
	b.objects[path] = obj
	return path, nil
}

func (b *IBusBinding) destroyEngine(path dbus.ObjectPath) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[path]; !ok {
		return
	}
	delete(b.objects, path)
	if err := b.conn.Export(nil, path, IBusEngineInterface); err != nil {
		b.logger.Warn("unexport engine", "path", path, "error", err)
	}
}

// ibusFactory implements the IBus Factory D-Bus interface.
type ibusFactory struct {
	binding *IBusBinding
}

// CreateEngine creates a new engine object for IBus.
func (f *ibusFactory) CreateEngine(engineName string) (dbus.ObjectPath, *dbus.Error) {
	f.binding.logger.Debug("CreateEngine", "name", engineName)

	if !f.binding.acceptsEngine(engineName) {
		return "", dbus.NewError("org.freedesktop.IBus.NoEngine",
			[]interface{}{"Unknown engine: " + engineName})
	}
	path, err := f.binding.createEngine(engineName)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return path, nil
}

// ibusEngineObject is one exported org.freedesktop.IBus.Engine object.
type ibusEngineObject struct {
	binding *IBusBinding
	name    string
	path    dbus.ObjectPath
	host    *IBusHost
}

func (o *ibusEngineObject) engine() *Engine {
	return o.binding.engine
}

// attach routes engine output to this object.
func (o *ibusEngineObject) attach() {
	o.engine().SetHost(o.host)
	o.engine().SetEngineName(o.name)
}

func (o *ibusEngineObject) ProcessKeyEvent(keyval, keycode, state uint32) (bool, *dbus.Error) {
	return o.engine().ProcessKeyEvent(keyval, keycode, state), nil
}

func (o *ibusEngineObject) FocusIn() *dbus.Error {
	o.attach()
	o.engine().FocusIn()
	return nil
}

func (o *ibusEngineObject) FocusOut() *dbus.Error {
	o.engine().FocusOut()
	return nil
}

func (o *ibusEngineObject) Enable() *dbus.Error {
	o.attach()
	o.engine().Enable()
	return nil
}

func (o *ibusEngineObject) Disable() *dbus.Error {
	o.engine().Disable()
	return nil
}

func (o *ibusEngineObject) Reset() *dbus.Error {
	o.engine().Reset()
	return nil
}

func (o *ibusEngineObject) SetCapabilities(caps uint32) *dbus.Error {
	o.engine().SetCapabilities(caps)
	return nil
}

func (o *ibusEngineObject) SetCursorLocation(x, y, w, h int32) *dbus.Error {
	o.engine().SetCursorLocation(x, y, w, h)
	return nil
}

func (o *ibusEngineObject) SetContentType(purpose, hints uint32) *dbus.Error {
	return nil
}

func (o *ibusEngineObject) SetSurroundingText(text dbus.Variant, cursorPos, anchorPos uint32) *dbus.Error {
	return nil
}

func (o *ibusEngineObject) PropertyActivate(name string, state uint32) *dbus.Error {
	o.engine().PropertyActivate(name, state)
	return nil
}

func (o *ibusEngineObject) PropertyShow(name string) *dbus.Error { return nil }

func (o *ibusEngineObject) PropertyHide(name string) *dbus.Error { return nil }

func (o *ibusEngineObject) PageUp() *dbus.Error { return nil }

func (o *ibusEngineObject) PageDown() *dbus.Error { return nil }

func (o *ibusEngineObject) CursorUp() *dbus.Error { return nil }

func (o *ibusEngineObject) CursorDown() *dbus.Error { return nil }

func (o *ibusEngineObject) CandidateClicked(index, button, state uint32) *dbus.Error {
	o.engine().CandidateClicked(index, button, state)
	return nil
}

// Destroy is called by ibus-daemon when it drops the engine object.
func (o *ibusEngineObject) Destroy() *dbus.Error {
	o.binding.destroyEngine(o.path)
	return nil
}
