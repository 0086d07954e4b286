// Copyright 2025 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package spindle

import (
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/pins"
)

// Constructor creates a spindle of a registered type.
type Constructor func(cfg model.SpindleConfig, deps Dependencies) (Spindle, error)

var (
	UnknownTypeError = errors.New("unknown spindle type")

	registryMutex sync.RWMutex
	registry      = make(map[string]registration)
)

type registration struct {
	name string
	ctor Constructor
}

// IsUnknownType returns true if the cause of the given error is UnknownTypeError.
func IsUnknownType(err error) bool {
	return errors.Cause(err) == UnknownTypeError
}

// Register a spindle type under the given name.
// Names are matched case-insensitive. Registering a name twice panics.
func Register(name string, ctor Constructor) {
	key := strings.ToLower(name)
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, found := registry[key]; found {
		panic("spindle type registered twice: " + name)
	}
	registry[key] = registration{name: name, ctor: ctor}
}

// Types returns the sorted names of all registered spindle types.
func Types() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	result := lo.Map(lo.Values(registry), func(r registration, _ int) string {
		return r.name
	})
	slices.Sort(result)
	return result
}

// New creates a spindle of the type named in the given configuration.
func New(cfg model.SpindleConfig, deps Dependencies) (Spindle, error) {
	registryMutex.RLock()
	reg, found := registry[strings.ToLower(cfg.Type)]
	registryMutex.RUnlock()
	if !found {
		return nil, errors.Wrapf(UnknownTypeError, "'%s' (known types: %s)", cfg.Type, strings.Join(Types(), ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Lines.Output == nil {
		deps.Lines.Output = pins.Pin{}
	}
	if deps.Lines.Enable == nil {
		deps.Lines.Enable = pins.Pin{}
	}
	if deps.Lines.Direction == nil {
		deps.Lines.Direction = pins.Pin{}
	}
	if deps.Suspend == nil {
		deps.Suspend = Sleep
	}
	if deps.Machine == nil || deps.Modal == nil {
		return nil, errors.Errorf("spindle '%s' requires machine state", cfg.Name)
	}
	if deps.ToolChanger == nil && cfg.ToolChanger != "" {
		tc, err := NewToolChanger(cfg.ToolChanger)
		if err != nil {
			return nil, err
		}
		deps.ToolChanger = tc
	}
	deps.Log = deps.Log.With().Str("spindle", cfg.Name).Logger()
	cfg.Type = reg.name
	return reg.ctor(cfg, deps)
}
