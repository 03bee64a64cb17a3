//go:build !gui

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/metcalfc/leaf/internal/layout"
	"github.com/metcalfc/leaf/internal/navigation"
	"github.com/metcalfc/leaf/internal/termview"
)

const (
	appName        = "leaf"
	appUsage       = "terminal e-book reader with pages, highlights and read-aloud"
	consoleLogging = false
)

// page turns settle after this long, long enough to see the status flip
const turnDuration = 120 * time.Millisecond

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)
)

type keyMap struct {
	Next        key.Binding
	Prev        key.Binding
	NextChapter key.Binding
	PrevChapter key.Binding
	Auto        key.Binding
	Speak       key.Binding
	Highlight   key.Binding
	Quit        key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Next, k.Prev, k.NextChapter, k.Auto, k.Speak, k.Highlight, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.PrevChapter}}
}

var keys = keyMap{
	Next:        key.NewBinding(key.WithKeys("right", "l", " ", "pgdown"), key.WithHelp("→", "next")),
	Prev:        key.NewBinding(key.WithKeys("left", "h", "pgup"), key.WithHelp("←", "back")),
	NextChapter: key.NewBinding(key.WithKeys("n", "]"), key.WithHelp("n", "chapter")),
	PrevChapter: key.NewBinding(key.WithKeys("p", "["), key.WithHelp("p", "prev chapter")),
	Auto:        key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto")),
	Speak:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "speak")),
	Highlight:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mark")),
	Quit:        key.NewBinding(key.WithKeys("q", "Q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

type (
	tickMsg   time.Time
	speechMsg time.Time
	settleMsg struct{}
	pressMsg  struct {
		textIndex int
		text      string
	}
)

// screen is shared between model copies and session hooks.
type screen struct {
	width     int
	height    int
	notice    string
	err       error
	selected  int
	selection string
	pressed   bool
	dragX     int
	dragged   bool
}

type model struct {
	ctx      context.Context
	env      *appEnv
	bs       *bookSession
	st       *screen
	help     help.Model
	speaking bool
	quitting bool
}

func newModel(ctx context.Context, env *appEnv) model {
	return model{
		ctx:  ctx,
		env:  env,
		st:   &screen{width: 80, height: 24, selected: -1},
		help: help.New(),
	}
}

// pageSize returns the text area: one row for status and one for help.
func (m model) pageSize() (cols, rows int) {
	return max(m.st.width, 10), max(m.st.height-2, 3)
}

func (m model) settings() layout.Settings {
	cols, rows := m.pageSize()
	return terminalSettings(m.env.Cfg, cols, rows)
}

func (m model) Init() tea.Cmd {
	return nil
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func speechTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return speechMsg(t)
	})
}

func settle() tea.Cmd {
	return tea.Tick(turnDuration, func(time.Time) tea.Msg {
		return settleMsg{}
	})
}

// afterNavigation settles animated turns and loads a chapter navigation
// ran into.
func (m model) afterNavigation() tea.Cmd {
	if mv, ok := m.bs.takePending(); ok {
		m.bs.stopSpeaking()
		if err := m.bs.load(m.ctx, mv.chapter, mv.entry); err != nil {
			m.st.err = err
		}
	}
	if m.bs.sess.Navigation().State().Animating {
		return settle()
	}
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	nav := m.bs.sess.Navigation()

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.st.notice, m.st.err = "", nil
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Next):
			nav.GoNext()
			return m, m.afterNavigation()

		case key.Matches(msg, keys.Prev):
			nav.GoPrevious()
			return m, m.afterNavigation()

		case key.Matches(msg, keys.NextChapter):
			m.bs.boundary(navigation.ChapterEnd)
			return m, m.afterNavigation()

		case key.Matches(msg, keys.PrevChapter):
			m.bs.boundary(navigation.ChapterStart)
			return m, m.afterNavigation()

		case key.Matches(msg, keys.Auto):
			if nav.AutoAdvancing() {
				nav.StopAutoAdvance()
				return m, nil
			}
			nav.StartAutoAdvance()
			return m, tick(m.env.Cfg.Navigation.AutoAdvance)

		case key.Matches(msg, keys.Speak):
			if m.speaking {
				m.speaking = false
				m.bs.stopSpeaking()
				return m, nil
			}
			m.speaking = m.bs.speak()
			if m.speaking {
				return m, tea.Batch(speechTick(m.env.Cfg.Reading.SpeechPace), m.afterNavigation())
			}
			return m, nil

		case key.Matches(msg, keys.Highlight):
			return m, m.highlightSelection()
		}

	case tea.MouseMsg:
		return m, m.mouse(msg)

	case tea.WindowSizeMsg:
		m.st.width, m.st.height = msg.Width, msg.Height
		cols, _ := m.pageSize()
		nav.SetViewportWidth(float64(cols))
		if err := m.bs.relayout(m.ctx); err != nil {
			m.st.err = err
		}
		return m, nil

	case tickMsg:
		if !nav.AutoAdvancing() {
			return m, nil
		}
		nav.AutoAdvanceTick()
		cmds := []tea.Cmd{m.afterNavigation()}
		if nav.AutoAdvancing() {
			cmds = append(cmds, tick(m.env.Cfg.Navigation.AutoAdvance))
		}
		return m, tea.Batch(cmds...)

	case speechMsg:
		if !m.speaking {
			return m, nil
		}
		if !m.bs.speak() {
			m.speaking = false
			return m, nil
		}
		return m, tea.Batch(speechTick(m.env.Cfg.Reading.SpeechPace), m.afterNavigation())

	case settleMsg:
		nav.Settle()
		return m, nil

	case pressMsg:
		m.st.selected, m.st.selection = msg.textIndex, msg.text
		m.st.notice = "Selected: " + ellipsis(msg.text, 40) + " (m to mark)"
		return m, nil
	}

	return m, nil
}

// mouse turns clicks into taps, drags into page drags and a held button
// into a long press on the paragraph under it.
func (m model) mouse(msg tea.MouseMsg) tea.Cmd {
	nav := m.bs.sess.Navigation()
	switch msg.Button {
	case tea.MouseButtonWheelDown:
		nav.GoNext()
		return m.afterNavigation()
	case tea.MouseButtonWheelUp:
		nav.GoPrevious()
		return m.afterNavigation()
	}

	switch msg.Action {
	case tea.MouseActionPress:
		m.st.pressed, m.st.dragged, m.st.dragX = true, false, msg.X
		page := nav.State().CurrentPage
		if idx, ok := m.bs.sess.BlockAt(page, float64(msg.Y-1)); ok {
			m.bs.sess.PressStart(idx)
		}
	case tea.MouseActionMotion:
		if !m.st.pressed {
			return nil
		}
		if delta := msg.X - m.st.dragX; delta != 0 {
			m.bs.sess.PressMove()
			m.st.dragged = true
			m.st.dragX = msg.X
			nav.DragProgress(float64(delta))
		}
	case tea.MouseActionRelease:
		if !m.st.pressed {
			return nil
		}
		m.st.pressed = false
		m.bs.sess.PressEnd()
		if m.st.dragged {
			nav.DragEnd()
		} else {
			nav.Tap(float64(msg.X))
		}
		return m.afterNavigation()
	}
	return nil
}

func (m model) highlightSelection() tea.Cmd {
	if m.st.selected < 0 {
		m.st.notice = "Hold the mouse on a paragraph to select it"
		return nil
	}
	chapter := m.bs.currentChapter()
	hl, err := m.bs.store.AddHighlight(m.bs.hash, chapter, m.st.selection, "", "")
	if err != nil {
		m.st.err = err
		return nil
	}
	n := m.bs.sess.ApplyHighlights(m.bs.store.Highlights(m.bs.hash, chapter))
	m.env.Log.Debug("Paragraph highlighted", zap.String("id", hl.ID), zap.Int("located", n))
	m.st.selected, m.st.selection = -1, ""
	m.st.notice = "Marked"
	return nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	cols, rows := m.pageSize()
	nav := m.bs.sess.Navigation().State()

	var flags string
	if m.bs.sess.Navigation().AutoAdvancing() {
		flags += pausedStyle.Render(" [AUTO]")
	}
	if m.speaking {
		flags += pausedStyle.Render(" [SPEAKING]")
	}
	if nav.Animating {
		flags += " »"
	}
	chapter := m.bs.currentChapter()
	status := statusStyle.Render(fmt.Sprintf("%s | %s | Page %d/%d | %.0f%%",
		titleStyle.Render(m.bs.book.Title),
		m.bs.book.ChapterTitle(chapter),
		nav.CurrentPage+1, nav.TotalPages,
		100*m.bs.sess.Progress(),
	)) + flags

	body := termview.Render(m.bs.sess.RenderCurrent(), cols)
	lines := strings.Split(body, "\n")
	if len(lines) > rows {
		lines = lines[:rows]
	}
	for len(lines) < rows {
		lines = append(lines, "")
	}

	footer := m.help.View(keys)
	switch {
	case m.st.err != nil:
		footer = errorStyle.Render(m.st.err.Error())
	case m.st.notice != "":
		footer = noticeStyle.Render(m.st.notice)
	}

	var sb strings.Builder
	sb.WriteString(status)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n")
	sb.WriteString(footer)
	return sb.String()
}

func readBook(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)
	book, hash, err := openBook(ctx, cmd)
	if err != nil {
		return err
	}

	m := newModel(ctx, env)
	var p *tea.Program
	h := hooks{
		longPress: func(textIndex int, text string) {
			// timer goroutine
			if p != nil {
				p.Send(pressMsg{textIndex: textIndex, text: text})
			}
		},
		autoAdvanceEnded: func() {
			m.st.notice = "End of chapter"
		},
	}
	cols, _ := m.pageSize()
	m.bs = newBookSession(env, book, hash, termview.Oracle{}, float64(cols), m.settings, h)

	// paginated for a default size, the first WindowSizeMsg lays out again
	if err := m.bs.start(ctx, int(cmd.Int("chapter")), cmd.Bool("fresh")); err != nil {
		return err
	}
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	_, runErr := p.Run()
	if err := m.bs.close(); err != nil {
		env.Log.Warn("Unable to close reading session", zap.Error(err))
	}
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("reader failed: %w", runErr)
	}
	return nil
}
