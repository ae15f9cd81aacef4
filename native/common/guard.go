package common

import "errors"

// ErrModulePaused is returned when a paused module receives a state
// transition request.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switchboard consulted by native modules
// before mutating state.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or
// empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a map-backed PauseView for wiring and tests.
type PauseSet map[string]bool

func (p PauseSet) IsPaused(module string) bool { return p[module] }
