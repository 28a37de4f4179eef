package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sentinelfs/internal/interface/ipc"
)

var (
	watchHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("62")).
				Padding(0, 1)

	watchRowStyle = lipgloss.NewStyle().Padding(0, 1)

	watchBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	sparkChars = []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

	sparklineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// watchColumn is one header cell of the peer table in the status
// --watch view.
type watchColumn struct {
	name  string
	width int
}

var peerColumns = []watchColumn{
	{"PEER", 20},
	{"STATUS", 10},
	{"RTT", 8},
	{"JITTER", 8},
	{"LOSS", 6},
	{"SCORE", 6},
}

// renderPeerTable formats peers as a fixed-width table, widest column
// first.
func renderPeerTable(peers []ipc.PeerInfo) string {
	var lines []string

	var headerCells []string
	for _, col := range peerColumns {
		headerCells = append(headerCells, fmt.Sprintf("%-*s", col.width, col.name))
	}
	lines = append(lines, watchHeaderStyle.Render(strings.Join(headerCells, " ")))

	totalWidth := 0
	for _, col := range peerColumns {
		totalWidth += col.width + 1
	}
	lines = append(lines, watchBorderStyle.Render(strings.Repeat("─", totalWidth)))

	for _, p := range peers {
		row := []string{
			fmt.Sprintf("%-*s", peerColumns[0].width, truncate(p.ID, peerColumns[0].width)),
			fmt.Sprintf("%-*s", peerColumns[1].width, p.Status),
			fmt.Sprintf("%-*s", peerColumns[2].width, p.RTTAvg.Round(time.Millisecond).String()),
			fmt.Sprintf("%-*s", peerColumns[3].width, fmt.Sprintf("%.1fms", p.JitterMS)),
			fmt.Sprintf("%-*s", peerColumns[4].width, fmt.Sprintf("%.1f%%", p.LossRate*100)),
			fmt.Sprintf("%-*.0f", peerColumns[5].width, p.Score),
		}
		lines = append(lines, watchRowStyle.Render(strings.Join(row, " ")))
	}

	if len(peers) == 0 {
		lines = append(lines, watchRowStyle.Render("(no peers connected)"))
	}

	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "…"
}

// renderSparkline draws data as a compact unicode bar chart, scaled
// to its own maximum.
func renderSparkline(data []float64, width int) string {
	if len(data) == 0 {
		return strings.Repeat(sparkChars[0], width)
	}

	sampled := sampleSparkline(data, width)

	max := 0.0
	for _, v := range sampled {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return strings.Repeat(sparkChars[0], width)
	}

	var out strings.Builder
	for _, v := range sampled {
		idx := int((v / max) * float64(len(sparkChars)-1))
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		if idx < 0 {
			idx = 0
		}
		out.WriteString(sparklineStyle.Render(sparkChars[idx]))
	}
	return out.String()
}

func sampleSparkline(data []float64, width int) []float64 {
	if len(data) <= width {
		result := make([]float64, width)
		copy(result, data)
		return result
	}

	result := make([]float64, width)
	step := float64(len(data)) / float64(width)
	for i := 0; i < width; i++ {
		idx := int(float64(i) * step)
		if idx >= len(data) {
			idx = len(data) - 1
		}
		result[i] = data[idx]
	}
	return result
}

const watchSparklineWidth = 40
const watchRefreshInterval = 2 * time.Second

// watchModel is the bubbletea program backing `sentinelfsctl status
// --watch`: it polls the daemon over the IPC client on a ticker and
// renders peer scores plus a queue-depth trend.
type watchModel struct {
	client *ipc.Client

	status   ipc.StatusResponse
	peers    []ipc.PeerInfo
	queueLog []float64
	err      error
}

type watchTickMsg time.Time

type watchDataMsg struct {
	status ipc.StatusResponse
	peers  []ipc.PeerInfo
	err    error
}

func newWatchModel(client *ipc.Client) watchModel {
	return watchModel{client: client}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), watchTick())
}

func watchTick() tea.Cmd {
	return tea.Tick(watchRefreshInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			return watchDataMsg{err: err}
		}
		peersResp, err := client.Peers(ctx)
		if err != nil {
			return watchDataMsg{err: err}
		}
		return watchDataMsg{status: status, peers: peersResp.Peers}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" || msg.String() == "esc" {
			return m, tea.Quit
		}
	case watchTickMsg:
		return m, tea.Batch(m.fetch(), watchTick())
	case watchDataMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.status = msg.status
		m.peers = msg.peers
		m.queueLog = append(m.queueLog, float64(msg.status.SyncQueueDepth))
		if len(m.queueLog) > 200 {
			m.queueLog = m.queueLog[len(m.queueLog)-200:]
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "SentinelFS — %s\n", m.status.NodeID)
	if m.err != nil {
		fmt.Fprintf(&b, "refresh error: %v\n\n", m.err)
	} else {
		fmt.Fprintf(&b, "peers: %d  unresolved conflicts: %d  queue depth: %d\n\n",
			m.status.PeerCount, m.status.UnresolvedConflicts, m.status.SyncQueueDepth)
	}

	b.WriteString(renderPeerTable(m.peers))
	b.WriteString("\n\n")
	b.WriteString("queue depth  ")
	b.WriteString(renderSparkline(m.queueLog, watchSparklineWidth))
	b.WriteString("\n\npress q to quit\n")

	return b.String()
}
