// Package tui renders the review loop in the terminal: question first,
// answer on demand, then a score row graded with a single keypress.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"recallsheet/internal/pictures"
	"recallsheet/internal/review"
	"recallsheet/internal/scheduler"
)

const pictureTimeout = 5 * time.Second

type phase int

const (
	phaseLoading phase = iota
	phaseQuestion
	phaseAnswer
	phaseDone
)

// messages

type startedMsg struct{ err error }

type pictureMsg struct {
	question bool
	pic      pictures.Picture
	ok       bool
	err      error
}

type noticeMsg string

type keyMap struct {
	Confirm key.Binding
	Left    key.Binding
	Right   key.Binding
	Skip    key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Confirm: key.NewBinding(key.WithKeys("enter", " ")),
	Left:    key.NewBinding(key.WithKeys("left", "h")),
	Right:   key.NewBinding(key.WithKeys("right", "l")),
	Skip:    key.NewBinding(key.WithKeys("s")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc")),
}

// Model drives one review session. Construct it with New and hand it to
// tea.NewProgram.
type Model struct {
	session *review.Session
	title   string
	notices <-chan string

	phase    phase
	selected scheduler.Score
	notice   string
	fatal    error

	questionPic    pictures.Picture
	hasQuestionPic bool
	answerPic      pictures.Picture
	hasAnswerPic   bool

	spinner spinner.Model
	width   int
}

// New builds the model. Messages sent on notices show up as a transient
// status line; wire the review session's notifier to the same channel.
func New(session *review.Session, title string, notices <-chan string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle
	return Model{
		session:  session,
		title:    title,
		notices:  notices,
		selected: scheduler.CorrectHard,
		spinner:  sp,
	}
}

// Notices returns a channel-backed notifier suitable for review.Config.
// It never blocks: when the channel is full the message is dropped.
func Notices(ch chan<- string) review.Notifier {
	return func(msg string) {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Err reports the fatal error that ended the program, if any.
func (m Model) Err() error { return m.fatal }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), m.spinner.Tick, m.waitNotice())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case startedMsg:
		if msg.err != nil {
			m.fatal = msg.err
			return m, tea.Quit
		}
		if _, ok := m.session.Current(); !ok {
			m.phase = phaseDone
			return m, nil
		}
		m.phase = phaseQuestion
		return m, m.pictureCmd(true)

	case pictureMsg:
		if msg.question {
			m.questionPic, m.hasQuestionPic = msg.pic, msg.ok
		} else {
			m.answerPic, m.hasAnswerPic = msg.pic, msg.ok
		}
		if msg.err != nil {
			// The card stays reviewable as text; the failure is only noted.
			m.notice = "Cannot show image: " + msg.err.Error()
		}
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		return m, m.waitNotice()

	case spinner.TickMsg:
		if m.phase != phaseLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		return m, tea.Quit
	}

	switch m.phase {
	case phaseQuestion:
		switch {
		case key.Matches(msg, keys.Confirm):
			m.session.Reveal()
			m.phase = phaseAnswer
			return m, m.pictureCmd(false)
		case key.Matches(msg, keys.Skip):
			m.session.Skip()
			return m.advance()
		}

	case phaseAnswer:
		switch {
		case key.Matches(msg, keys.Left):
			if m.selected > scheduler.Blackout {
				m.selected--
			}
		case key.Matches(msg, keys.Right):
			if m.selected < scheduler.Perfect {
				m.selected++
			}
		case key.Matches(msg, keys.Confirm):
			m.session.Grade(m.selected)
			return m.advance()
		default:
			if score, ok := scoreKey(msg.String()); ok {
				m.selected = score
			}
		}
	}
	return m, nil
}

// advance moves the view to the next card, or to the completion screen.
func (m Model) advance() (tea.Model, tea.Cmd) {
	m.selected = scheduler.CorrectHard
	m.hasQuestionPic, m.hasAnswerPic = false, false
	if _, ok := m.session.Current(); !ok {
		m.phase = phaseDone
		return m, nil
	}
	m.phase = phaseQuestion
	return m, m.pictureCmd(true)
}

func (m Model) View() string {
	switch m.phase {
	case phaseLoading:
		return "\n " + m.spinner.View() + " Fetching cards…\n"
	case phaseDone:
		_, total := m.session.Progress()
		body := titleStyle.Render(m.title) + "\n\n"
		if total == 0 {
			body += "Nothing is due. Come back later.\n"
		} else {
			body += fmt.Sprintf("Session complete — %d cards reviewed.\n", total)
		}
		return body + "\n" + mutedStyle.Render("q to quit") + "\n"
	}

	card, ok := m.session.Current()
	if !ok {
		return ""
	}
	pos, total := m.session.Progress()

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d / %d", pos, total)))
	b.WriteString("\n\n")

	b.WriteString(questionStyle.Render(card.Question))
	b.WriteString("\n")
	if m.hasQuestionPic {
		b.WriteString(renderPicture(m.questionPic))
	}

	if m.phase == phaseAnswer {
		b.WriteString("\n")
		b.WriteString(answerStyle.Render(card.Answer))
		b.WriteString("\n")
		if m.hasAnswerPic {
			b.WriteString(renderPicture(m.answerPic))
		}
		b.WriteString("\n")
		b.WriteString(m.renderScores())
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("←/→ pick a score, 0–5 jump, enter to confirm"))
	} else {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("enter to reveal, s to skip, q to quit"))
	}

	if m.notice != "" {
		b.WriteString("\n\n")
		b.WriteString(noticeStyle.Render(m.notice))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderScores() string {
	cells := make([]string, 0, 6)
	for s := scheduler.Blackout; s <= scheduler.Perfect; s++ {
		cell := fmt.Sprintf(" %d ", int(s))
		if s == m.selected {
			cell = selectedScoreStyle.Render(cell)
		} else {
			cell = scoreStyle.Render(cell)
		}
		cells = append(cells, cell)
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, cells...)
	return row + "\n" + mutedStyle.Render(scheduler.Labels[m.selected])
}

// renderPicture stands in for the image itself: terminals get the cached
// path plus the box the image occupies on the reference canvas.
func renderPicture(pic pictures.Picture) string {
	label := fmt.Sprintf("%s  %dx%d at (%d, %d)", pic.Path, pic.W, pic.H, pic.X, pic.Y)
	return pictureStyle.Render(label) + "\n"
}

func (m Model) startCmd() tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: m.session.Start(context.Background())}
	}
}

func (m Model) pictureCmd(question bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pictureTimeout)
		defer cancel()
		var (
			pic pictures.Picture
			ok  bool
			err error
		)
		if question {
			pic, ok, err = m.session.QuestionPicture(ctx)
		} else {
			pic, ok, err = m.session.AnswerPicture(ctx)
		}
		return pictureMsg{question: question, pic: pic, ok: ok && err == nil, err: err}
	}
}

func (m Model) waitNotice() tea.Cmd {
	if m.notices == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-m.notices
		if !ok {
			return nil
		}
		return noticeMsg(msg)
	}
}

func scoreKey(s string) (scheduler.Score, bool) {
	if len(s) != 1 || s[0] < '0' || s[0] > '5' {
		return 0, false
	}
	return scheduler.Score(s[0] - '0'), true
}
