// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent/events"
)

// progressEventMsg carries one build event into the TUI.
type progressEventMsg struct {
	event *events.Event
}

// progressDoneMsg ends the TUI once the build loop has returned.
type progressDoneMsg struct{}

// buildProgressModel renders live build progress: a log of completed
// tool calls above a spinner line showing current activity.
//
// Thread Safety: single-threaded inside the bubbletea event loop;
// events arrive only as messages via Program.Send.
type buildProgressModel struct {
	spinner       spinner.Model
	status        string
	iteration     int
	maxIterations int
	log           []string
	done          bool
}

func newBuildProgressModel(maxIterations int) buildProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ux.Styles.Highlight
	return buildProgressModel{
		spinner:       sp,
		status:        "Contacting model",
		maxIterations: maxIterations,
	}
}

func (m buildProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m buildProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressEventMsg:
		return m.applyEvent(msg.event), nil

	case progressDoneMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		// Ctrl-C cancels through context; the TUI itself never quits
		// mid-build so the final state is always rendered.
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

// applyEvent folds one build event into the display state.
func (m buildProgressModel) applyEvent(event *events.Event) buildProgressModel {
	if event.Iteration > m.iteration {
		m.iteration = event.Iteration
	}

	switch event.Type {
	case events.TypeToolProgress:
		data, ok := event.Data.(events.ToolProgressData)
		if !ok {
			return m
		}
		switch data.Status {
		case events.ProgressRunning:
			m.status = "Running " + data.Tool
		case events.ProgressCompleted:
			m.log = append(m.log, fmt.Sprintf("%s %s", ux.IconSuccess.Render(), data.Tool))
		case events.ProgressError:
			m.log = append(m.log, fmt.Sprintf("%s %s %s",
				ux.IconError.Render(), data.Tool, ux.Styles.Muted.Render(data.Error)))
		}

	case events.TypeWorkflowUpdated:
		if data, ok := event.Data.(events.WorkflowUpdatedData); ok {
			m.status = fmt.Sprintf("Document updated (v%d)", data.Version)
		}

	case events.TypeValidationOutcome:
		m.status = "Validating"

	case events.TypeIterationComplete:
		m.status = "Contacting model"

	case events.TypeSessionEnd:
		m.status = "Finishing"
	}
	return m
}

func (m buildProgressModel) View() string {
	var b strings.Builder
	for _, line := range m.log {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if !m.done {
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			m.spinner.View(),
			m.status,
			ux.Styles.Muted.Render(fmt.Sprintf("[iteration %d/%d]", m.iteration, m.maxIterations))))
	}
	return b.String()
}

// plainProgress prints build events as plain lines, used when stdout is
// not a terminal or --plain is set.
func plainProgress(event *events.Event) {
	switch event.Type {
	case events.TypeToolProgress:
		data, ok := event.Data.(events.ToolProgressData)
		if !ok || data.Status == events.ProgressRunning {
			return
		}
		icon := ux.IconSuccess
		detail := ""
		if data.Status == events.ProgressError {
			icon = ux.IconError
			detail = data.Error
		}
		ux.ToolLine(data.Tool, icon, detail)

	case events.TypeIterationComplete:
		if data, ok := event.Data.(events.IterationData); ok {
			ux.Info(fmt.Sprintf("iteration %d complete (%d tool calls)", data.Iteration, data.ToolCalls))
		}
	}
}
