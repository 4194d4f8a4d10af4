/*
Copyright (c) Eden Dev, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package interlay

import (
	"fmt"
)

// RelayPair names the two backends an interlay can route between while
// a migration is active. Backend 1 is the original store, backend 2 the
// migration target.
type RelayPair struct {
	Backend1 string `json:"backend1"`
	Backend2 string `json:"backend2"`
}

// Interlay is a routing unit: one listen port forwarding client
// connections to the currently selected backend. The endpoint field
// holds the active backend address; it is only mutated through the
// relay's atomic switch.
type Interlay struct {
	Name        string     `json:"name"`
	UUID        string     `json:"uuid"`
	Port        int        `json:"port"`
	ControlPort int        `json:"control_port,omitempty"`
	TLS         bool       `json:"tls,omitempty"`
	Endpoint    string     `json:"endpoint"`
	Relay       *RelayPair `json:"migration_relay,omitempty"`
}

func (i *Interlay) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("interlay name must not be empty")
	}
	if i.Port < 0 || i.Port > 65535 {
		return fmt.Errorf("interlay %q listen port %d out of range", i.Name, i.Port)
	}
	if i.Relay != nil {
		if i.Relay.Backend1 == "" || i.Relay.Backend2 == "" {
			return fmt.Errorf("interlay %q migration relay must name both backends", i.Name)
		}
	} else if i.Endpoint == "" {
		return fmt.Errorf("interlay %q has neither an endpoint nor a migration relay", i.Name)
	}
	return nil
}

// initialSelection recovers which backend a fresh relay should serve.
// The persisted endpoint is written on every switch, so after a restart
// an interlay that was switched to backend 2 must come back there
// instead of reverting to the original store.
func (i *Interlay) initialSelection() int32 {
	if i.Relay != nil && i.Endpoint == i.Relay.Backend2 {
		return 2
	}
	return 1
}

// backendAddr maps the 1-based selection used by the control surface to
// a dialable address.
func (i *Interlay) backendAddr(selection int) (string, error) {
	if i.Relay == nil {
		if selection != 1 {
			return "", fmt.Errorf("interlay %q has no migration relay; only backend 1 is routable", i.Name)
		}
		return i.Endpoint, nil
	}
	switch selection {
	case 1:
		return i.Relay.Backend1, nil
	case 2:
		return i.Relay.Backend2, nil
	default:
		return "", fmt.Errorf("interlay %q backend selection %d must be 1 or 2", i.Name, selection)
	}
}
