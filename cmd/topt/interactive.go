package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/testopt/constants"
	"github.com/wippyai/testopt/optimization"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))
)

type browserState int

const (
	stateBrowse browserState = iota
	stateFilter
	stateDetail
)

type browserModel struct {
	spans  []optimization.MockSpan
	shown  []optimization.MockSpan
	table  table.Model
	filter textinput.Model
	detail optimization.MockSpan
	state  browserState
}

func newBrowserModel(spans []optimization.MockSpan) *browserModel {
	sorted := append([]optimization.MockSpan(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SpanID < sorted[j].SpanID })

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 6},
			{Title: "Parent", Width: 6},
			{Title: "Operation", Width: 18},
			{Title: "Name", Width: 32},
			{Title: "Status", Width: 6},
			{Title: "Duration", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(styles)

	ti := textinput.New()
	ti.Prompt = "filter: "
	ti.Placeholder = "operation, name or tag value"
	ti.Width = 40

	m := &browserModel{spans: sorted, table: t, filter: ti}
	m.applyFilter()
	return m
}

// applyFilter keeps spans whose operation, name or any tag contains the
// filter text
func (m *browserModel) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.shown = m.shown[:0]
	rows := make([]table.Row, 0, len(m.spans))
	for _, sp := range m.spans {
		if q != "" && !spanMatches(sp, q) {
			continue
		}
		m.shown = append(m.shown, sp)
		rows = append(rows, table.Row{
			strconv.FormatUint(uint64(sp.SpanID), 10),
			strconv.FormatUint(uint64(sp.ParentSpanID), 10),
			sp.OperationName,
			spanName(sp),
			sp.StringTags[constants.TestStatus],
			sp.Finish.Sub(sp.Start).String(),
		})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(0)
	}
}

func spanMatches(sp optimization.MockSpan, q string) bool {
	if strings.Contains(strings.ToLower(sp.OperationName), q) {
		return true
	}
	for k, v := range sp.StringTags {
		if strings.Contains(strings.ToLower(k), q) || strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func (m *browserModel) Init() tea.Cmd {
	return nil
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.state {
		case stateBrowse:
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "/":
				m.state = stateFilter
				m.table.Blur()
				return m, m.filter.Focus()
			case "enter":
				if i := m.table.Cursor(); i >= 0 && i < len(m.shown) {
					m.detail = m.shown[i]
					m.state = stateDetail
				}
				return m, nil
			}

		case stateFilter:
			switch msg.String() {
			case "esc", "enter":
				m.state = stateBrowse
				m.filter.Blur()
				m.table.Focus()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd

		case stateDetail:
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "esc", "enter":
				m.state = stateBrowse
			}
			return m, nil
		}
	}

	if m.state == stateFilter {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *browserModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Test Optimization"))
	b.WriteString(fmt.Sprintf(" %d of %d spans\n\n", len(m.shown), len(m.spans)))

	if m.state == stateDetail {
		b.WriteString(m.detailView())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("esc back • q quit"))
		return b.String()
	}

	b.WriteString(tableStyle.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n\n")
	if m.state == stateFilter {
		b.WriteString(helpStyle.Render("type to filter • enter/esc done"))
	} else {
		b.WriteString(helpStyle.Render("↑/↓ select • enter tags • / filter • q quit"))
	}
	return b.String()
}

func (m *browserModel) detailView() string {
	sp := m.detail
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", keyStyle.Render("operation"), valueStyle.Render(sp.OperationName))
	fmt.Fprintf(&b, "%s %d  %s %d  %s %d\n",
		keyStyle.Render("span"), sp.SpanID,
		keyStyle.Render("trace"), sp.TraceID,
		keyStyle.Render("parent"), sp.ParentSpanID)
	fmt.Fprintf(&b, "%s %s\n\n", keyStyle.Render("duration"), sp.Finish.Sub(sp.Start))

	keys := make([]string, 0, len(sp.StringTags))
	for k := range sp.StringTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := sp.StringTags[k]
		style := valueStyle
		if v == constants.TestStatusFail || strings.HasPrefix(k, "error.") {
			style = failStyle
		}
		fmt.Fprintf(&b, "  %s = %s\n", keyStyle.Render(k), style.Render(v))
	}

	keys = keys[:0]
	for k := range sp.NumberTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s = %s\n", keyStyle.Render(k),
			valueStyle.Render(strconv.FormatFloat(sp.NumberTags[k], 'g', -1, 64)))
	}
	return b.String()
}

func runInteractive(spans []optimization.MockSpan) error {
	p := tea.NewProgram(newBrowserModel(spans), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
