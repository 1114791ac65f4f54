package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is where an engine instance runs.
type Tier string

const (
	TierPhone  Tier = "phone"
	TierServer Tier = "server"
	TierCloud  Tier = "cloud"
)

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierPhone, TierServer, TierCloud:
		return true
	}
	return false
}

// OwnDeviceID is the id of the device that represents this user's own
// engine on another tier.
func OwnDeviceID(t Tier) string {
	return "thingengine-own-" + string(t)
}

// KindEngine is the device kind of a peer engine.
const KindEngine = "thingengine"

// DeviceConfig is a raw device definition. It must carry a "kind".
type DeviceConfig map[string]any

// Device is a registered device.
type Device struct {
	ID     string       `json:"id"`
	Kind   string       `json:"kind"`
	Tier   Tier         `json:"tier,omitempty"`
	Own    bool         `json:"own,omitempty"`
	Config DeviceConfig `json:"config"`

	seq int64
}

// App is an installed application.
type App struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Tier        Tier            `json:"tier"`
	Code        string          `json:"code"`
	State       map[string]any  `json:"state,omitempty"`
	Definition  json.RawMessage `json:"-"`

	seq int64
}

// Feed is a messaging conversation with one contact.
type Feed struct {
	ID      string `json:"feedId"`
	Contact string `json:"contact"`
}
