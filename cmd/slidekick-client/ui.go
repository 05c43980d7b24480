package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	slideStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5A56E0")).
			Padding(1, 4).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444"))

	transcriptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA")).
			Italic(true)

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#888888")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type eventKind int

const (
	eventStatus eventKind = iota
	eventTranscript
	eventIntent
	eventSlideCommand
	eventToolResult
	eventDisconnected
)

type uiEvent struct {
	kind       eventKind
	status     string
	message    string
	summary    string
	slideIndex int
}

type eventMsg uiEvent

const maxTranscriptLines = 8

type model struct {
	session *backendSession

	spinner spinner.Model
	width   int

	currentSlide int
	totalSlides  int

	status     string
	lastIntent string
	transcript []string
	summary    string
	errText    string
	connected  bool
}

func newModel(session *backendSession, totalSlides int) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5A56E0"))

	return model{
		session:     session,
		spinner:     s,
		totalSlides: totalSlides,
		status:      "connecting",
		connected:   true,
		width:       80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvents())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "right", "l":
			if m.currentSlide+1 < m.totalSlides {
				m.currentSlide++
				m.session.syncSlide(m.currentSlide)
			}
		case "left", "h":
			if m.currentSlide > 0 {
				m.currentSlide--
				m.session.syncSlide(m.currentSlide)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventMsg:
		m = m.handleEvent(uiEvent(msg))
		cmds = append(cmds, m.listenForEvents())
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleEvent(event uiEvent) model {
	switch event.kind {
	case eventStatus:
		m.status = event.message
		if event.status == "error" {
			m.errText = event.message
		}

	case eventTranscript:
		m.transcript = append(m.transcript, event.message)
		if len(m.transcript) > maxTranscriptLines {
			m.transcript = m.transcript[len(m.transcript)-maxTranscriptLines:]
		}

	case eventIntent:
		m.lastIntent = event.message

	case eventSlideCommand:
		if event.status == "success" {
			m.currentSlide = event.slideIndex
		} else {
			m.errText = fmt.Sprintf("cannot go %s", event.message)
		}

	case eventToolResult:
		if event.summary != "" {
			m.summary = event.summary
		}
		if event.status == "error" {
			m.errText = fmt.Sprintf("%s failed", event.message)
		}

	case eventDisconnected:
		m.connected = false
		m.errText = "disconnected: " + event.message
	}

	return m
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Slidekick Presenter Console"))
	b.WriteString("\n\n")

	b.WriteString(slideStyle.Render(fmt.Sprintf("Slide %d / %d", m.currentSlide+1, m.totalSlides)))
	b.WriteString("\n\n")

	if m.connected {
		b.WriteString(m.spinner.View() + " " + activeStyle.Render(m.status))
	} else {
		b.WriteString(errorStyle.Render("offline"))
	}
	if m.lastIntent != "" {
		b.WriteString(statusStyle.Render("  │  intent: ") + m.lastIntent)
	}
	b.WriteString("\n\n")

	if len(m.transcript) > 0 {
		wrapped := wordwrap.String(strings.Join(m.transcript, "\n"), max(20, m.width-4))
		b.WriteString(transcriptStyle.Render(wrapped))
		b.WriteString("\n\n")
	}

	if m.summary != "" {
		wrapped := wordwrap.String(m.summary, max(20, m.width-8))
		b.WriteString(summaryStyle.Render(wrapped))
		b.WriteString("\n\n")
	}

	if m.errText != "" {
		b.WriteString(errorStyle.Render(m.errText))
		b.WriteString("\n\n")
	}

	b.WriteString(helpStyle.Render("←/→ change slide  │  q quit"))

	return b.String()
}

func (m model) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.session.events)
	}
}
