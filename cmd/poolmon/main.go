// Package main provides poolmon, a terminal dashboard for a running
// snapdeck node. It polls the stats endpoint once a second.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/snapdeck/snapdeck-go/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Width(28)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

type statsMsg struct {
	stats *types.StatsResponse
	err   error
}

type tickMsg time.Time

type model struct {
	url     string
	stats   *types.StatsResponse
	err     error
	updated time.Time
}

func fetchStats(url string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return statsMsg{err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return statsMsg{err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}

		var s types.StatsResponse
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			return statsMsg{err: err}
		}
		return statsMsg{stats: &s}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchStats(m.url), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(fetchStats(m.url), tick())
	case statsMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.stats = msg.stats
			m.updated = time.Now()
		}
	}
	return m, nil
}

func (m model) View() string {
	s := titleStyle.Render("snapdeck pool monitor") + "\n\n"

	if m.err != nil {
		s += errStyle.Render(fmt.Sprintf("unreachable: %v", m.err)) + "\n\n"
	}

	if m.stats != nil {
		p := m.stats.Pool
		row := func(label string, value string) string {
			return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
		}
		s += row("Browsers (ready/total)", fmt.Sprintf("%d / %d", p.ActiveBrowsers, p.TotalBrowsers))
		s += row("Active contexts", fmt.Sprintf("%d", p.ActiveContexts))
		s += row("Pending waiters", fmt.Sprintf("%d", p.PendingWaiters))
		s += row("Avg contexts/browser", fmt.Sprintf("%.2f", p.AverageContextsPerBrowser))
		s += row("Oldest browser age", (time.Duration(p.OldestBrowserAgeMillis) * time.Millisecond).Round(time.Second).String())
		s += row("Total usage", fmt.Sprintf("%d", p.TotalUsageCount))
		s += row("Node uptime", (time.Duration(m.stats.UptimeSeconds) * time.Second).String())
		s += row("Version", m.stats.Version)
		s += "\n" + okStyle.Render("updated "+m.updated.Format("15:04:05")) + "\n"
	} else if m.err == nil {
		s += "loading...\n"
	}

	s += "\n" + helpStyle.Render("q to quit")
	return s
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8191", "snapdeck node base URL")
	flag.Parse()

	m := model{url: *addr + "/v1/stats"}
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "poolmon: %v\n", err)
		os.Exit(1)
	}
}
