// Package display provides the terminal UI using Bubble Tea.
//
// The [UI] type manages a persistent status bar (session state, player
// activity, alert countdowns) and a command prompt at the bottom of the
// terminal. All application output is printed above the rendered area
// via Program.Println / Printf, so concurrent writes never garble the
// display.
package display

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// ── Styles ───────────────────────────────────────────────────────

var (
	barBg = lipgloss.NewStyle().
		Background(lipgloss.Color("#27272a")).
		Foreground(lipgloss.Color("#a1a1aa"))

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bbf7d0"))

	recordingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fca5a5")).
			Bold(true)

	alertRunStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fde68a"))

	alertSoundingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#fca5a5"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a1a1aa"))

	sepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#52525b"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	// BannerStyle is used for the startup banner.
	BannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a"))

	urgentOutputStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#fca5a5"))

	userInputEchoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#a1a1aa"))
)

const prompt = "avs> "

// ── Status ───────────────────────────────────────────────────────

// Status is what the status bar shows.
type Status struct {
	Session  string
	Speaking bool
	Playing  bool
	Locale   string
	Alerts   domain.AlertsState
}

// StatusSource is polled once per second for the status bar.
type StatusSource interface {
	Status() Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func() Status

// Status calls f.
func (f StatusFunc) Status() Status { return f() }

// ── UI ───────────────────────────────────────────────────────────

// UI manages the terminal through Bubble Tea.
//
// Call [NewUI] then [UI.Run] (blocking). Other goroutines may
// safely call [UI.Println], [UI.Printf], and read from
// [UI.InputChan] at any time after [UI.WaitReady] returns.
type UI struct {
	program *tea.Program
	inputCh chan string
	readyCh chan struct{}
	quitCh  chan struct{}
	source  StatusSource
	done    atomic.Bool
}

// NewUI creates the display. Call Run() to start.
func NewUI(source StatusSource) *UI {
	return &UI{
		source:  source,
		inputCh: make(chan string, 16),
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// Println prints a line above the prompt. Thread-safe.
// If the program hasn't started yet, falls back to fmt.Println.
func (u *UI) Println(a ...interface{}) {
	if u.program != nil && !u.done.Load() {
		u.program.Println(a...)
	} else {
		fmt.Println(a...)
	}
}

// Printf prints formatted text above the prompt. Thread-safe.
func (u *UI) Printf(format string, a ...interface{}) {
	if u.program != nil && !u.done.Load() {
		u.program.Printf(format, a...)
	} else {
		fmt.Printf(format, a...)
	}
}

// InputChan returns completed user-input lines.
func (u *UI) InputChan() <-chan string { return u.inputCh }

// PrintInfo prints a regular line.
func (u *UI) PrintInfo(text string) {
	u.Println(infoStyle.Render(indent(text)))
}

// PrintHint prints a dimmed line.
func (u *UI) PrintHint(text string) {
	u.Println(hintStyle.Render(indent(text)))
}

// PrintUrgent prints an error line.
func (u *UI) PrintUrgent(text string) {
	u.Println(urgentOutputStyle.Render(indent(text)))
}

// indent wraps text to the terminal and indents every line by two.
func indent(text string) string {
	return wrapIndent(text, termWidth())
}

func wrapIndent(text string, width int) string {
	if width > 10 {
		text = wordwrap.String(text, width-4)
	}
	return "  " + strings.ReplaceAll(text, "\n", "\n  ")
}

// PrintUserInput echoes the user's typed command into the scrollback.
func (u *UI) PrintUserInput(text string) {
	u.Println(promptStyle.Render("avs") + hintStyle.Render("> ") + userInputEchoStyle.Render(text))
}

// WaitReady blocks until the Bubble Tea event loop is running.
func (u *UI) WaitReady() { <-u.readyCh }

// Quit tells Bubble Tea to exit.
func (u *UI) Quit() {
	if u.program != nil {
		u.program.Quit()
	}
}

// QuitChan is closed when Run returns.
func (u *UI) QuitChan() <-chan struct{} { return u.quitCh }

// Run starts the Bubble Tea event loop. Blocks until quit.
func (u *UI) Run() error {
	ti := textinput.New()
	// Plain-text prompt: styled prompts add ANSI bytes that break the
	// textinput width math.
	ti.Prompt = prompt
	ti.PromptStyle = promptStyle
	ti.TextStyle = userInputEchoStyle
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 60

	m := model{
		source:  u.source,
		input:   ti,
		inputCh: u.inputCh,
		readyCh: u.readyCh,
		echoFn: func(v string) {
			u.PrintUserInput(v)
		},
		now: time.Now,
	}

	u.program = tea.NewProgram(m)
	_, err := u.program.Run()
	u.done.Store(true)
	close(u.quitCh)
	return err
}

// ── Bubble Tea model ─────────────────────────────────────────────

type model struct {
	source  StatusSource
	input   textinput.Model
	inputCh chan<- string
	readyCh chan struct{}
	echoFn  func(string)
	now     func() time.Time
	status  Status
	alerts  []alertInfo
	width   int
}

type alertInfo struct {
	label     string
	remaining time.Duration
	sounding  bool
}

type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tickCmd(),
		signalReady(m.readyCh),
	)
}

func signalReady(ch chan struct{}) tea.Cmd {
	return func() tea.Msg {
		close(ch)
		return nil
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			v := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(v) != "" {
				m.inputCh <- v
				// Echo outside Update so Println can't deadlock on msgs.
				echoFn := m.echoFn
				return m, func() tea.Msg {
					echoFn(v)
					return nil
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > len(prompt) {
			m.input.Width = msg.Width - len(prompt)
		}
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tea.Batch(tickCmd(), tea.SetWindowTitle(m.titleStr()))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) refresh() {
	if m.source == nil {
		return
	}
	m.status = m.source.Status()
	m.alerts = alertInfos(m.status.Alerts, m.now())
}

// alertInfos turns the alert context into countdowns, sounding first.
func alertInfos(state domain.AlertsState, now time.Time) []alertInfo {
	sounding := make(map[string]bool, len(state.ActiveAlerts))
	for _, a := range state.ActiveAlerts {
		sounding[a.Token] = true
	}

	out := make([]alertInfo, 0, len(state.AllAlerts))
	for _, a := range state.AllAlerts {
		info := alertInfo{
			label:    strings.ToLower(string(a.Type)),
			sounding: sounding[a.Token],
		}
		if at, err := time.Parse(time.RFC3339, a.ScheduledTime); err == nil {
			info.remaining = at.Sub(now)
		}
		out = append(out, info)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].sounding != out[j].sounding {
			return out[i].sounding
		}
		return out[i].remaining < out[j].remaining
	})
	return out
}

func (m model) titleStr() string {
	for _, a := range m.alerts {
		if a.sounding {
			return "avsclient: " + a.label + " ringing"
		}
	}
	if m.status.Session != "" {
		return "avsclient: " + m.status.Session
	}
	return "avsclient"
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.renderBar())
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m model) renderBar() string {
	var parts []string

	session := m.status.Session
	if session == "" {
		session = "idle"
	}
	if session == "recording" {
		parts = append(parts, recordingStyle.Render("● "+session))
	} else {
		parts = append(parts, stateStyle.Render(session))
	}

	switch {
	case m.status.Speaking:
		parts = append(parts, labelStyle.Render("speaking"))
	case m.status.Playing:
		parts = append(parts, labelStyle.Render("playing"))
	}

	for _, a := range m.alerts {
		if a.sounding {
			parts = append(parts, alertSoundingStyle.Render(a.label+": RINGING"))
		} else {
			parts = append(parts,
				labelStyle.Render(a.label+": ")+
					alertRunStyle.Render(fmtDuration(a.remaining)))
		}
	}

	if m.status.Locale != "" {
		parts = append(parts, labelStyle.Render(m.status.Locale))
	}

	content := " " + strings.Join(parts, sepStyle.Render("  │  ")) + " "

	w := m.width
	if w <= 0 {
		w = 80
	}
	return barBg.Width(w).Render(content)
}

// ── Helpers ──────────────────────────────────────────────────────

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
