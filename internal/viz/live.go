// Package viz renders the live calibration view: a loss chart and
// parameter table updated as the fit progresses.
package viz

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/odesens/internal/calibrate"
)

const (
	chartWidth      = 60
	chartHeight     = 8
	historyCapacity = 600
)

type iterMsg calibrate.Iteration

type doneMsg struct{}

// Live is the bubbletea model for a running fit. Iterations arrive on
// the updates channel; closing it marks the fit finished. cancel stops
// the fit when the user quits early.
type Live struct {
	modelName  string
	paramNames []string
	updates    <-chan calibrate.Iteration
	cancel     context.CancelFunc

	last     calibrate.Iteration
	held     int
	loss     []float64
	paused   bool
	finished bool
}

func NewLive(modelName string, paramNames []string, updates <-chan calibrate.Iteration, cancel context.CancelFunc) Live {
	return Live{
		modelName:  modelName,
		paramNames: paramNames,
		updates:    updates,
		cancel:     cancel,
		loss:       make([]float64, 0, historyCapacity),
	}
}

func (m Live) wait() tea.Cmd {
	return func() tea.Msg {
		it, ok := <-m.updates
		if !ok {
			return doneMsg{}
		}
		return iterMsg(it)
	}
}

func (m Live) Init() tea.Cmd { return m.wait() }

func (m Live) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
			if !m.paused {
				m.held = 0
			}
		}
	case iterMsg:
		if m.paused {
			m.held++
		} else {
			m.last = calibrate.Iteration(msg)
			m.loss = append(m.loss, msg.Loss)
			if len(m.loss) > historyCapacity {
				m.loss = m.loss[1:]
			}
		}
		return m, m.wait()
	case doneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Live) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.modelName)+" CALIBRATION") + "\n")

	status := "RUNNING"
	switch {
	case m.finished:
		status = "DONE"
	case m.paused:
		status = fmt.Sprintf("PAUSED (%d updates held)", m.held)
	}
	s.WriteString(status + "\n\n")

	if len(m.loss) > 1 {
		chart := asciigraph.Plot(m.loss,
			asciigraph.Height(chartHeight), asciigraph.Width(chartWidth),
			asciigraph.Caption("Loss"))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	s.WriteString(labelStyle.Render("Iteration") + valueStyle.Render(fmt.Sprintf("%d", m.last.Iter)) + "\n")
	s.WriteString(labelStyle.Render("Loss") + valueStyle.Render(fmt.Sprintf("%.6g", m.last.Loss)) + "\n")
	s.WriteString(labelStyle.Render("Grad norm") + valueStyle.Render(fmt.Sprintf("%.3g", m.last.GradNorm)) + "\n")

	s.WriteString("\nPARAMETERS\n")
	if len(m.last.Params) == 0 {
		s.WriteString(labelStyle.Render("  (waiting)") + "\n")
	}
	for i, v := range m.last.Params {
		name := fmt.Sprintf("p%d", i)
		if i < len(m.paramNames) {
			name = m.paramNames[i]
		}
		s.WriteString(fmt.Sprintf("  %s %s\n",
			labelStyle.Render(name), valueStyle.Render(fmt.Sprintf("%.6g", v))))
	}
	if len(m.last.U0) > 0 {
		s.WriteString("\nINITIAL STATE\n")
		for i, v := range m.last.U0 {
			s.WriteString(fmt.Sprintf("  %s %s\n",
				labelStyle.Render(fmt.Sprintf("u0[%d]", i)), valueStyle.Render(fmt.Sprintf("%.6g", v))))
		}
	}

	s.WriteString(helpStyle.Render("\nSP:Pause Q:Quit"))
	return panelStyle.Render(s.String())
}

// Run drives the fit under a live view and returns its result. The
// progress channel is buffered so descent iterations never block on
// rendering.
func Run(ctx context.Context, modelName string, paramNames []string,
	fit func(ctx context.Context, progress func(calibrate.Iteration)) (*calibrate.Result, error),
) (*calibrate.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan calibrate.Iteration, 64)
	type outcome struct {
		res *calibrate.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fit(ctx, func(it calibrate.Iteration) {
			select {
			case updates <- it:
			default:
			}
		})
		close(updates)
		done <- outcome{res, err}
	}()

	prog := tea.NewProgram(NewLive(modelName, paramNames, updates, cancel))
	if _, err := prog.Run(); err != nil {
		cancel()
		<-done
		return nil, err
	}
	out := <-done
	return out.res, out.err
}
