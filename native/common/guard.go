package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a static PauseView built from configuration.
type PauseSet map[string]bool

// NewPauseSet marks each listed module as paused.
func NewPauseSet(modules []string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, m := range modules {
		if name := strings.ToLower(strings.TrimSpace(m)); name != "" {
			set[name] = true
		}
	}
	return set
}

// IsPaused implements PauseView.
func (p PauseSet) IsPaused(module string) bool {
	return p[strings.ToLower(module)]
}
