package sim

import (
	"fmt"
	"strings"
)

// IntentKind names a control input.
type IntentKind string

const (
	IntentAccelerate        IntentKind = "accelerate"
	IntentBrake             IntentKind = "brake"
	IntentLaneLeft          IntentKind = "lane-left"
	IntentLaneRight         IntentKind = "lane-right"
	IntentToggleAutopilot   IntentKind = "toggle-autopilot"
	IntentNotificationOpen  IntentKind = "notification-open"
	IntentNotificationClose IntentKind = "notification-close"
	IntentStart             IntentKind = "start"
)

var intentKinds = []IntentKind{
	IntentAccelerate,
	IntentBrake,
	IntentLaneLeft,
	IntentLaneRight,
	IntentToggleAutopilot,
	IntentNotificationOpen,
	IntentNotificationClose,
	IntentStart,
}

// Intent is one input event. Pressed is false for a key release.
// Notification intents carry the notification id in Target.
type Intent struct {
	Kind    IntentKind
	Pressed bool
	Target  string
}

// Press returns a key-down intent.
func Press(kind IntentKind) Intent {
	return Intent{Kind: kind, Pressed: true}
}

// Release returns a key-up intent.
func Release(kind IntentKind) Intent {
	return Intent{Kind: kind}
}

// ParseIntentKind accepts the intent name in any case, with '_' or '-'.
func ParseIntentKind(s string) (IntentKind, error) {
	norm := IntentKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, k := range intentKinds {
		if k == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

// IntentKinds lists every known intent.
func IntentKinds() []IntentKind {
	return append([]IntentKind(nil), intentKinds...)
}
