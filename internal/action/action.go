// Package action defines the built-in action and intent names shared by the
// domain, tracker and policy layers.
package action

// Default actions every domain carries, in their canonical order. The order
// matters: it is part of the action index space.
const (
	ListenName          = "action_listen"
	RestartName         = "action_restart"
	DefaultFallbackName = "action_default_fallback"
	DeactivateFormName  = "action_deactivate_form"
	BackName            = "action_back"
)

// Built-in intents that map policies route to default actions.
const (
	IntentRestart = "restart"
	IntentBack    = "back"
)

// UtterPrefix marks actions that answer with a response template.
const UtterPrefix = "utter_"

// DefaultNames returns the fixed default action list. The returned slice is
// fresh on every call so callers may append to it.
func DefaultNames() []string {
	return []string{
		ListenName,
		RestartName,
		DefaultFallbackName,
		DeactivateFormName,
		BackName,
	}
}

// IsDefault reports whether name is one of the built-in actions.
func IsDefault(name string) bool {
	switch name {
	case ListenName, RestartName, DefaultFallbackName, DeactivateFormName, BackName:
		return true
	}
	return false
}
