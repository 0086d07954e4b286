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
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ToolChanger is an automatic tool changer attached to a spindle.
type ToolChanger interface {
	// Init prepares the tool changer. Called from the spindle Init.
	Init(ctx context.Context) error
	// Info returns a short description for the startup summary.
	Info() string
}

var (
	UnknownToolChangerError = errors.New("unknown tool changer")

	toolChangersMutex sync.RWMutex
	toolChangers      = map[string]func() ToolChanger{
		"manual": func() ToolChanger { return manualToolChanger{} },
	}
)

// RegisterToolChanger registers a tool changer under the given name.
func RegisterToolChanger(name string, ctor func() ToolChanger) {
	toolChangersMutex.Lock()
	defer toolChangersMutex.Unlock()

	toolChangers[strings.ToLower(name)] = ctor
}

// NewToolChanger creates the tool changer registered under the given name.
func NewToolChanger(name string) (ToolChanger, error) {
	toolChangersMutex.RLock()
	ctor, found := toolChangers[strings.ToLower(name)]
	toolChangersMutex.RUnlock()
	if !found {
		return nil, errors.Wrapf(UnknownToolChangerError, "'%s'", name)
	}
	return ctor(), nil
}

// manualToolChanger waits for the operator to change tools.
type manualToolChanger struct{}

func (manualToolChanger) Init(ctx context.Context) error { return nil }
func (manualToolChanger) Info() string                   { return "atc:manual" }
