package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/quadgrid/internal/optim"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

const recentCapacity = 8

// ResultMsg carries one finished evaluation run into the model. The sweep
// goroutine sends these through tea.Program.Send.
type ResultMsg optim.RunResult

// DoneMsg signals that every run of the sweep has finished.
type DoneMsg struct{}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model renders live grid-search progress: a bar, pass/fail counters broken
// down by failure reason, and the most recent runs.
type Model struct {
	total    int
	done     int
	ok       int
	failed   int
	reasons  map[string]int
	recent   []optim.RunResult
	start    time.Time
	finished bool
	width    int
}

func NewSweepModel(total int) Model {
	return Model{
		total:   total,
		reasons: make(map[string]int),
		start:   time.Now(),
		width:   80,
	}
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case ResultMsg:
		r := optim.RunResult(msg)
		m.done++
		if r.OK {
			m.ok++
		} else {
			m.failed++
			m.reasons[r.Reason]++
		}
		m.recent = append(m.recent, r)
		if len(m.recent) > recentCapacity {
			m.recent = m.recent[1:]
		}
	case DoneMsg:
		m.finished = true
		return m, tea.Quit
	case tickMsg:
		if !m.finished {
			return m, tick()
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(cyan.Render("grid search") + "\n\n")
	b.WriteString(m.progressBar())
	fmt.Fprintf(&b, "  %s\n\n", dim.Render(fmt.Sprintf("%d/%d runs", m.done, m.total)))

	fmt.Fprintf(&b, "  %s %s   %s %s\n",
		green.Render("pass"), white.Render(fmt.Sprintf("%d", m.ok)),
		yellow.Render("fail"), white.Render(fmt.Sprintf("%d", m.failed)))

	if len(m.reasons) > 0 {
		names := make([]string, 0, len(m.reasons))
		for name := range m.reasons {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "    %s %s\n",
				dim.Render(name), white.Render(fmt.Sprintf("%d", m.reasons[name])))
		}
	}

	if len(m.recent) > 0 {
		b.WriteString("\n" + dim.Render("recent") + "\n")
		for i := len(m.recent) - 1; i >= 0; i-- {
			r := m.recent[i]
			status := green.Render("ok")
			if !r.OK {
				status = yellow.Render(r.Reason)
			}
			fmt.Fprintf(&b, "  %s %s %s\n",
				magenta.Render(fmt.Sprintf("#%d.%d", r.Combination.Index, r.Replicate)),
				dim.Render(r.Combination.String()),
				status)
		}
	}

	elapsed := time.Since(m.start).Round(time.Second)
	b.WriteString("\n" + dim.Render(fmt.Sprintf("elapsed %s", elapsed)))
	if m.done > 0 && m.done < m.total {
		perRun := time.Since(m.start) / time.Duration(m.done)
		eta := (perRun * time.Duration(m.total-m.done)).Round(time.Second)
		b.WriteString(dim.Render(fmt.Sprintf("  eta %s", eta)))
	}
	b.WriteString("\n" + dim.Render("q to abort") + "\n")
	return b.String()
}

func (m Model) progressBar() string {
	barWidth := m.width - 20
	if barWidth < 10 {
		barWidth = 10
	}
	filled := 0
	if m.total > 0 {
		filled = barWidth * m.done / m.total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return "  " + cyan.Render(bar)
}
