// Copyright 2023 Ewout Prangsma
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

package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	humanize "github.com/dustin/go-humanize"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/spindle"
)

// Controller is the part of the spindle service used by the UI.
type Controller interface {
	Statuses() []spindle.Status
	AbortActive() bool
	Abort() bool
	ResetAbort(ctx context.Context) bool
	SpeedOverride() uint32
	SetState(ctx context.Context, name string, state model.SpindleState, speed uint32) error
}

const (
	refreshInterval = time.Second / 2
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	abortStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	helpStyle  = lipgloss.NewStyle().Faint(true)

	columns = []table.Column{
		{Title: "Name", Width: 12},
		{Title: "Type", Width: 6},
		{Title: "State", Width: 5},
		{Title: "Speed", Width: 7},
		{Title: "Duty", Width: 11},
		{Title: "Output", Width: 10},
		{Title: "Enable", Width: 10},
		{Title: "Direction", Width: 10},
		{Title: "Changed", Width: 16},
	}
)

type Root struct {
	controller func() Controller
	width      int
	height     int
	loadAvg    string
	table      table.Model
	statuses   []spindle.Status
	abort      bool
	override   uint32
	lastError  string
}

var _ tea.Model = Root{}

// NewRoot creates the root model.
// The given function returns nil while the spindles are not available.
func NewRoot(controller func() Controller) Root {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(table.DefaultStyles())
	return Root{
		controller: controller,
		table:      t,
	}
}

// Init is the first function that will be called. It returns an optional
// initial command. To not perform an initial command return nil.
func (r Root) Init() tea.Cmd {
	return tea.Batch(doReloadCPULoadAvg(), doRefresh(0))
}

// Update is called when a message is received. Use it to inspect messages
// and, in response, update the model and/or send a command.
func (r Root) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadAvgMsg:
		r.loadAvg = string(msg)
		return r, doReloadCPULoadAvg()
	case refreshMsg:
		r = r.refresh()
		return r, doRefresh(refreshInterval)
	case commandDoneMsg:
		if msg.err != nil {
			r.lastError = msg.err.Error()
		} else {
			r.lastError = ""
		}
		return r.refresh(), nil
	case tea.WindowSizeMsg:
		r.height = msg.Height
		r.width = msg.Width
		r.table.SetWidth(r.width)
		r.table.SetHeight(max(3, r.height-lipgloss.Height(r.headerView())-4))
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return r, tea.Quit
		case "a":
			if c := r.controller(); c != nil {
				c.Abort()
			}
			return r.refresh(), nil
		case "c":
			if c := r.controller(); c != nil {
				c.ResetAbort(context.Background())
			}
			return r.refresh(), nil
		case "s":
			if row := r.table.SelectedRow(); len(row) > 0 {
				return r, doSetState(r.controller(), row[0], model.SpindleDisabled, 0)
			}
			return r, nil
		}
	}

	var cmd tea.Cmd
	r.table, cmd = r.table.Update(msg)
	return r, cmd
}

// refresh loads the current state from the controller.
func (r Root) refresh() Root {
	c := r.controller()
	if c == nil {
		r.statuses = nil
		r.table.SetRows(nil)
		return r
	}
	r.statuses = c.Statuses()
	r.abort = c.AbortActive()
	r.override = c.SpeedOverride()
	rows := make([]table.Row, 0, len(r.statuses))
	for _, st := range r.statuses {
		rows = append(rows, table.Row{
			st.Name,
			st.Type,
			st.State.String(),
			humanize.Comma(int64(st.Speed)),
			fmt.Sprintf("%d/%d", st.Duty, st.MaxDuty),
			st.OutputPin,
			st.EnablePin,
			st.DirectionPin,
			humanize.Time(st.LastChange),
		})
	}
	r.table.SetRows(rows)
	return r
}

// View renders the program's UI, which is just a string. The view is
// rendered after every Update.
func (r Root) View() string {
	s := r.headerView()
	if r.controller() == nil {
		return s + "Spindles are starting...\n"
	}
	s += r.table.View() + "\n"
	var configErrors []string
	for _, st := range r.statuses {
		if st.ConfigError != "" {
			configErrors = append(configErrors, fmt.Sprintf("%s: %s", st.Name, st.ConfigError))
		}
	}
	if len(configErrors) > 0 {
		s += errorStyle.Render(strings.Join(configErrors, "\n")) + "\n"
	}
	if r.lastError != "" {
		s += errorStyle.Render(r.lastError) + "\n"
	}
	s += helpStyle.Render("a - Abort  c - Clear abort  s - Stop selected  q - Disconnect") + "\n"
	return s
}

func (r Root) headerView() string {
	status := fmt.Sprintf("override %d%%", r.override)
	if r.abort {
		status = abortStyle.Render("ABORT") + "  " + status
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("BinkyNet Spindle worker"), "  ",
		status, "  ",
		r.loadAvg,
	) + "\n"
}

type loadAvgMsg string

func doReloadCPULoadAvg() tea.Cmd {
	return tea.Tick(time.Second*2, func(t time.Time) tea.Msg {
		if content, err := os.ReadFile("/proc/loadavg"); err != nil {
			return loadAvgMsg(err.Error())
		} else {
			return loadAvgMsg(strings.TrimSpace(string(content)))
		}
	})
}

type refreshMsg struct{}

func doRefresh(delay time.Duration) tea.Cmd {
	if delay == 0 {
		return func() tea.Msg { return refreshMsg{} }
	}
	return tea.Tick(delay, func(time.Time) tea.Msg { return refreshMsg{} })
}

type commandDoneMsg struct {
	err error
}

// doSetState runs the state change in the background, it may take
// the duration of a ramp.
func doSetState(c Controller, name string, state model.SpindleState, speed uint32) tea.Cmd {
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		return commandDoneMsg{err: c.SetState(context.Background(), name, state, speed)}
	}
}
