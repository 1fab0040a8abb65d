package ime

import (
	"henkan/internal/metrics"
)

// OnConfigChanged applies a host settings change to the session config.
// Only changes in the engine's settings section are considered. The value
// must match the declared type of the named field; a mismatch, an unknown
// field or an unknown enum name drops the change without touching the
// session.
func (e *Engine) OnConfigChanged(section, name string, value any) {
	if section != e.settingsSection {
		e.metrics.ConfigUpdate(metrics.ConfigIgnored)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.client.GetConfig()
	if err != nil {
		e.sessionError("get_config", err)
		e.metrics.ConfigUpdate(metrics.ConfigRejected)
		return
	}

	if err := cfg.Set(name, value); err != nil {
		e.logger.Error("rejecting config change", "section", section, "name", name, "value", value, "error", err)
		e.metrics.ConfigUpdate(metrics.ConfigRejected)
		return
	}

	if err := e.client.SetConfig(cfg); err != nil {
		e.sessionError("set_config", err, "name", name)
		e.metrics.ConfigUpdate(metrics.ConfigRejected)
		return
	}
	if err := e.client.SyncData(); err != nil {
		e.sessionError("sync_data", err)
	}
	e.preeditMethod = cfg.PreeditMethod
	e.metrics.ConfigUpdate(metrics.ConfigApplied)
	e.logger.Debug("config changed", "name", name, "value", value)
}
