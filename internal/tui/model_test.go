package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"recallsheet/internal/models"
	"recallsheet/internal/pictures"
	"recallsheet/internal/review"
	"recallsheet/internal/scheduler"
)

type memStore struct {
	mu    sync.Mutex
	cards []models.Card
	saved []models.Card
}

func (s *memStore) FetchCards(ctx context.Context, worksheet string) ([]models.Card, error) {
	return s.cards, nil
}

func (s *memStore) SaveCard(ctx context.Context, worksheet string, card models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, card)
	return nil
}

func startedModel(t *testing.T, cards []models.Card) (Model, *memStore, *review.Session) {
	t.Helper()
	store := &memStore{cards: cards}
	session := review.New(review.Config{
		Store:     store,
		Worksheet: "Deck",
		Scheduler: scheduler.New(),
	})
	m := New(session, "Deck", nil)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	next, _ := m.Update(startedMsg{})
	return next.(Model), store, session
}

func keyPress(m Model, k string) Model {
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "left":
		msg = tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestQuestionHidesAnswerUntilRevealed(t *testing.T) {
	m, _, _ := startedModel(t, []models.Card{
		{Index: 2, Question: "capital of France?", Answer: "Paris"},
	})

	view := m.View()
	if !strings.Contains(view, "capital of France?") {
		t.Errorf("question missing from view:\n%s", view)
	}
	if strings.Contains(view, "Paris") {
		t.Errorf("answer leaked before reveal:\n%s", view)
	}

	m = keyPress(m, "enter")
	view = m.View()
	if !strings.Contains(view, "Paris") {
		t.Errorf("answer missing after reveal:\n%s", view)
	}
	if !strings.Contains(view, scheduler.Labels[scheduler.CorrectHard]) {
		t.Errorf("default score label missing:\n%s", view)
	}
}

func TestScoreSelection(t *testing.T) {
	m, _, _ := startedModel(t, []models.Card{{Index: 2, Question: "q", Answer: "a"}})
	m = keyPress(m, "enter")

	m = keyPress(m, "right")
	m = keyPress(m, "right")
	if m.selected != scheduler.Perfect {
		t.Errorf("selected = %d after two rights, want %d", m.selected, scheduler.Perfect)
	}
	// Clamped at the top of the range.
	m = keyPress(m, "right")
	if m.selected != scheduler.Perfect {
		t.Errorf("selected = %d, want clamp at %d", m.selected, scheduler.Perfect)
	}

	for range 6 {
		m = keyPress(m, "left")
	}
	if m.selected != scheduler.Blackout {
		t.Errorf("selected = %d, want clamp at %d", m.selected, scheduler.Blackout)
	}

	m = keyPress(m, "4")
	if m.selected != scheduler.CorrectHesitant {
		t.Errorf("selected = %d after digit key, want %d", m.selected, scheduler.CorrectHesitant)
	}
}

func TestGradeAdvancesAndResetsSelection(t *testing.T) {
	m, store, session := startedModel(t, []models.Card{
		{Index: 2, Question: "first", Answer: "a1", Easiness: 2.5},
		{Index: 3, Question: "second", Answer: "a2", Easiness: 2.5},
	})

	first, _ := session.Current()
	m = keyPress(m, "enter")
	m = keyPress(m, "5")
	m = keyPress(m, "enter")

	if m.phase != phaseQuestion {
		t.Fatalf("phase = %d after grading, want question", m.phase)
	}
	if m.selected != scheduler.CorrectHard {
		t.Errorf("selection not reset, got %d", m.selected)
	}
	current, ok := session.Current()
	if !ok || current.Index == first.Index {
		t.Errorf("session did not advance, current = %+v", current)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := session.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 1 || store.saved[0].Index != first.Index {
		t.Errorf("saved = %+v, want the first card", store.saved)
	}
}

func TestCompletionScreen(t *testing.T) {
	m, _, _ := startedModel(t, []models.Card{{Index: 2, Question: "q", Answer: "a"}})
	m = keyPress(m, "enter")
	m = keyPress(m, "enter")

	if m.phase != phaseDone {
		t.Fatalf("phase = %d, want done", m.phase)
	}
	if view := m.View(); !strings.Contains(view, "Session complete") {
		t.Errorf("completion message missing:\n%s", view)
	}
}

func TestEmptySessionShowsNothingDue(t *testing.T) {
	m, _, _ := startedModel(t, nil)
	if m.phase != phaseDone {
		t.Fatalf("phase = %d, want done", m.phase)
	}
	if view := m.View(); !strings.Contains(view, "Nothing is due") {
		t.Errorf("empty-session message missing:\n%s", view)
	}
}

func TestNoticeLine(t *testing.T) {
	ch := make(chan string, 1)
	notify := Notices(ch)
	notify("Could not update card at row 4")

	store := &memStore{cards: []models.Card{{Index: 2, Question: "q", Answer: "a"}}}
	session := review.New(review.Config{Store: store, Worksheet: "Deck"})
	m := New(session, "Deck", ch)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	next, _ := m.Update(startedMsg{})
	m = next.(Model)

	cmd := m.waitNotice()
	msg := cmd()
	next, _ = m.Update(msg)
	m = next.(Model)

	if view := m.View(); !strings.Contains(view, "Could not update card at row 4") {
		t.Errorf("notice missing from view:\n%s", view)
	}
}

type brokenCache struct{}

func (brokenCache) DownloadAll(ctx context.Context, refs []pictures.Ref) {}

func (brokenCache) Get(ctx context.Context, name string) (pictures.Picture, error) {
	return pictures.Picture{}, errors.New("cache file corrupted")
}

func TestPictureFailureShowsNotice(t *testing.T) {
	store := &memStore{cards: []models.Card{
		{Index: 2, Question: "capital of Spain?", Answer: "Madrid", QuestionPicture: "https://img.example/q.png"},
	}}
	session := review.New(review.Config{
		Store:    store,
		Pictures: brokenCache{},
	})
	m := New(session, "Deck", nil)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	next, _ := m.Update(startedMsg{})
	m = next.(Model)

	msg := m.pictureCmd(true)()
	next, _ = m.Update(msg)
	m = next.(Model)

	view := m.View()
	if !strings.Contains(view, "Cannot show image") {
		t.Errorf("picture failure not surfaced:\n%s", view)
	}
	if !strings.Contains(view, "capital of Spain?") {
		t.Errorf("card no longer shown after picture failure:\n%s", view)
	}
}

func TestFatalStartQuits(t *testing.T) {
	session := review.New(review.Config{Store: &memStore{}})
	m := New(session, "Deck", nil)
	next, cmd := m.Update(startedMsg{err: context.DeadlineExceeded})
	m = next.(Model)
	if m.Err() == nil {
		t.Error("fatal error not recorded")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}
