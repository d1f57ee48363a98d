// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/hivegate/internal/gateway"
	"github.com/Thermoquad/hivegate/internal/monitor"
	"github.com/Thermoquad/hivegate/internal/session"
)

//////////////////////////////////////////////////////////////
// Log Feed
//////////////////////////////////////////////////////////////

// logFeed collects log lines for the dashboard's event pane
type logFeed struct {
	mu       sync.Mutex
	lines    []logLine
	maxLines int
	partial  []byte
}

type logLine struct {
	timestamp time.Time
	message   string
	isError   bool
}

func newLogFeed() *logFeed {
	return &logFeed{maxLines: 200}
}

// Write splits p into lines. It never blocks on the terminal.
func (f *logFeed) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.partial = append(f.partial, p...)
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			break
		}
		text := strings.TrimSpace(string(f.partial[:i]))
		f.partial = f.partial[i+1:]
		if text == "" {
			continue
		}
		f.lines = append(f.lines, logLine{
			timestamp: time.Now(),
			message:   text,
			isError:   strings.Contains(text, "ERR") || strings.Contains(text, "WRN"),
		})
	}

	// Keep only last N entries
	if len(f.lines) > f.maxLines {
		f.lines = f.lines[len(f.lines)-f.maxLines:]
	}
	return len(p), nil
}

func (f *logFeed) tail(n int) []logLine {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := len(f.lines) - n
	if start < 0 {
		start = 0
	}
	return append([]logLine(nil), f.lines[start:]...)
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// nodeItem implements list.Item
type nodeItem struct {
	node   gateway.Node
	status monitor.NodeStatus
	seen   bool
}

func (n nodeItem) Title() string { return n.node.Tag }

func (n nodeItem) Description() string {
	if !n.seen {
		return "not visited yet"
	}
	if n.status.NextCollection == nil {
		return n.status.LastOutcome
	}
	return fmt.Sprintf("%s, next %s", n.status.LastOutcome, n.status.NextCollection.Local().Format("15:04"))
}

func (n nodeItem) FilterValue() string { return n.node.Tag + " " + n.node.PeerID }

type dashboardModel struct {
	app      *app
	nodes    []gateway.Node
	feed     *logFeed
	nodeList list.Model
	width    int
	height   int
	quitting bool
}

type dashboardTickMsg time.Time

func newDashboard(a *app, nodes []gateway.Node, feed *logFeed) dashboardModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	nodeList := list.New([]list.Item{}, delegate, 32, 10)
	nodeList.Title = "Nodes"
	nodeList.SetShowStatusBar(false)
	nodeList.SetShowHelp(false)
	nodeList.SetFilteringEnabled(false)

	m := dashboardModel{
		app:      a,
		nodes:    nodes,
		feed:     feed,
		nodeList: nodeList,
		width:    100,
		height:   30,
	}
	m.refreshNodes()
	return m
}

func (m dashboardModel) Init() tea.Cmd {
	return dashboardTickCmd()
}

func dashboardTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return dashboardTickMsg(t)
	})
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height / 2
		if listHeight < 6 {
			listHeight = 6
		}
		m.nodeList.SetSize(32, listHeight)

	case dashboardTickMsg:
		m.refreshNodes()
		return m, dashboardTickCmd()
	}

	var cmd tea.Cmd
	m.nodeList, cmd = m.nodeList.Update(msg)
	return m, cmd
}

func (m *dashboardModel) refreshNodes() {
	tracker := m.app.gateway.Tracker()
	items := make([]list.Item, len(m.nodes))
	for i, n := range m.nodes {
		status, seen := tracker.Node(n.PeerID)
		items[i] = nodeItem{node: n, status: status, seen: seen}
	}
	m.nodeList.SetItems(items)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m dashboardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("HIVEGATE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Store: %s | HTTP: %s | Every %s | Press 'q' to quit",
		m.app.storeName, m.app.cfg.HTTP.Addr, m.app.cfg.Collect.Interval)))
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.statsView()))
	s.WriteString("\n")

	left := m.nodeList.View()
	right := boxStyle.Width(m.width - 40).Render(m.detailView())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.eventView()))
	return s.String()
}

func (m dashboardModel) statsView() string {
	stats := m.app.gateway.Tracker().Snapshot()

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		labelStyle.Render("Sessions:"), valueStyle.Render(fmt.Sprintf("%d", stats.TotalSessions)),
		labelStyle.Render("Completed:"), valueStyle.Render(fmt.Sprintf("%d", stats.Completed)),
		labelStyle.Render("Errors:"), func() string {
			if stats.Errored > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", stats.Errored))
			}
			return valueStyle.Render("0")
		}(),
		labelStyle.Render("Readings:"), valueStyle.Render(fmt.Sprintf("%d", stats.Readings)),
	))

	if stats.Errored > 0 {
		parts := make([]string, 0, len(stats.ErrorCodes))
		for code := session.CodeUnrecognizedCommand; code <= session.CodeLinkWrite; code++ {
			if n := stats.ErrorCodes[code]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s: %d", code, n))
			}
		}
		b.WriteString(headerStyle.Render(strings.Join(parts, ", ")))
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Session Rate:"), valueStyle.Render(fmt.Sprintf("%.1f /hour", stats.SessionRate)),
		labelStyle.Render("Spool:"), func() string {
			if n := m.app.spoolPending(); n > 0 {
				return infoStyle.Render(fmt.Sprintf("%d pending", n))
			}
			return valueStyle.Render("empty")
		}(),
	))
	return b.String()
}

func (m dashboardModel) detailView() string {
	item, ok := m.nodeList.SelectedItem().(nodeItem)
	if !ok {
		return headerStyle.Render("(no nodes)")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Address:"), item.node.PeerID))
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Link:"), item.node.Target.Describe()))
	if !item.seen {
		b.WriteString(headerStyle.Render("(waiting for first session)"))
		return b.String()
	}

	st := item.status
	outcome := valueStyle.Render(st.LastOutcome)
	if st.LastError != "" {
		outcome = errorStyle.Render(st.LastOutcome)
	}
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Last:"), outcome))
	if !st.LastSeen.IsZero() {
		b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Seen:"), st.LastSeen.Local().Format("01/02/06 15:04:05")))
	}
	if len(st.LastCommands) > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Commands:"), strings.Join(st.LastCommands, " ")))
	}
	if st.LastError != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Error:"), errorStyle.Render(st.LastError)))
	}
	if st.NextCollection != nil {
		b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Next collection:"), valueStyle.Render(st.NextCollection.Local().Format("15:04:05"))))
	}
	b.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d",
		labelStyle.Render("Sessions:"), st.Sessions,
		labelStyle.Render("Errors:"), st.Errors,
		labelStyle.Render("Readings:"), st.Readings,
	))
	return b.String()
}

func (m dashboardModel) eventView() string {
	// Reserve space for header, stats and node list
	logHeight := m.height - m.nodeList.Height() - 14
	if logHeight < 5 {
		logHeight = 5
	}

	lines := m.feed.tail(logHeight)
	if len(lines) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var b strings.Builder
	for _, l := range lines {
		timestamp := headerStyle.Render(l.timestamp.Format("15:04:05"))
		if l.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+l.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, infoStyle.Render("ℹ "+l.message)))
		}
	}
	return b.String()
}
