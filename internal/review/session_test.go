package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recallsheet/internal/models"
	"recallsheet/internal/pictures"
	"recallsheet/internal/scheduler"
)

type fakeStore struct {
	mu       sync.Mutex
	cards    []models.Card
	fetchErr error
	saveErr  error
	saved    []models.Card
	saveGate chan struct{} // when set, SaveCard blocks until it closes
}

func (f *fakeStore) FetchCards(ctx context.Context, worksheet string) ([]models.Card, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.cards, nil
}

func (f *fakeStore) SaveCard(ctx context.Context, worksheet string, card models.Card) error {
	if f.saveGate != nil {
		<-f.saveGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, card)
	return nil
}

func (f *fakeStore) savedCards() []models.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Card(nil), f.saved...)
}

type fakeCache struct {
	mu   sync.Mutex
	refs []pictures.Ref
	pics map[string]pictures.Picture
}

func (f *fakeCache) DownloadAll(ctx context.Context, refs []pictures.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, refs...)
}

func (f *fakeCache) Get(ctx context.Context, name string) (pictures.Picture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pic, ok := f.pics[name]
	if !ok {
		return pictures.Picture{}, errors.New("not cached")
	}
	return pic, nil
}

func (f *fakeCache) requested() []pictures.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pictures.Ref(nil), f.refs...)
}

func fixedClock() time.Time {
	return time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
}

func newTestSession(store Store, cache PictureCache, notify Notifier) *Session {
	return New(Config{
		Store:     store,
		Worksheet: "Deck",
		Scheduler: scheduler.New(scheduler.WithClock(fixedClock)),
		Pictures:  cache,
		Notify:    notify,
		Now:       fixedClock,
	})
}

func TestStartKeepsOnlyDueCards(t *testing.T) {
	now := fixedClock()
	store := &fakeStore{cards: []models.Card{
		{Index: 2, Question: "due, never practiced"},
		{Index: 3, Question: "due yesterday", NextPractice: now.Add(-24 * time.Hour)},
		{Index: 4, Question: "due tomorrow", NextPractice: now.Add(24 * time.Hour)},
	}}
	s := newTestSession(store, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, total := s.Progress()
	if total != 2 {
		t.Fatalf("session size = %d, want 2", total)
	}
	seen := map[int]bool{}
	for {
		card, ok := s.Current()
		if !ok {
			break
		}
		seen[card.Index] = true
		s.Skip()
	}
	if !seen[2] || !seen[3] || seen[4] {
		t.Errorf("due indexes = %v, want {2, 3}", seen)
	}
}

func TestStartFetchFailureIsFatal(t *testing.T) {
	fetchErr := errors.New("spreadsheet unavailable")
	s := newTestSession(&fakeStore{fetchErr: fetchErr}, nil, nil)
	if err := s.Start(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("Start() error = %v, want wrapping %v", err, fetchErr)
	}
}

func TestGradePersistsUpdatedCard(t *testing.T) {
	store := &fakeStore{cards: []models.Card{
		{Index: 2, Streak: 1, Interval: 1, Easiness: 2.5},
	}}
	s := newTestSession(store, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Grade(scheduler.Perfect)
	if _, ok := s.Current(); ok {
		t.Error("session should be finished after grading the only card")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	saved := store.savedCards()
	if len(saved) != 1 {
		t.Fatalf("saved %d cards, want 1", len(saved))
	}
	got := saved[0]
	if got.Streak != 2 {
		t.Errorf("saved streak = %d, want 2", got.Streak)
	}
	if got.Interval != 4 {
		t.Errorf("saved interval = %v, want 4", got.Interval)
	}
	if want := fixedClock().Add(4 * 24 * time.Hour); !got.NextPractice.Equal(want) {
		t.Errorf("saved next practice = %v, want %v", got.NextPractice, want)
	}
}

func TestRevealResetsOnAdvance(t *testing.T) {
	store := &fakeStore{cards: []models.Card{
		{Index: 2, Easiness: 2.5},
		{Index: 3, Easiness: 2.5},
	}}
	s := newTestSession(store, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if s.Revealed() {
		t.Error("new card started revealed")
	}
	s.Reveal()
	if !s.Revealed() {
		t.Error("Reveal() did not take")
	}
	s.Grade(scheduler.CorrectHard)
	if s.Revealed() {
		t.Error("reveal mark survived advancing to the next card")
	}
	s.Reveal()
	s.Skip()
	if s.Revealed() {
		t.Error("reveal mark survived a skip")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
}

func TestSaveFailureNotifiesAndContinues(t *testing.T) {
	store := &fakeStore{
		cards: []models.Card{
			{Index: 2, Easiness: 2.5},
			{Index: 3, Easiness: 2.5},
		},
		saveErr: errors.New("write rejected"),
	}
	var mu sync.Mutex
	var notices []string
	s := newTestSession(store, nil, func(msg string) {
		mu.Lock()
		notices = append(notices, msg)
		mu.Unlock()
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Grade(scheduler.CorrectHard)
	if _, ok := s.Current(); !ok {
		t.Fatal("review should continue past a failed save")
	}
	s.Grade(scheduler.CorrectHard)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 2 {
		t.Fatalf("got %d notices, want 2: %v", len(notices), notices)
	}
}

func TestDrainTimesOutOnStuckSave(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	store := &fakeStore{
		cards:    []models.Card{{Index: 2, Easiness: 2.5}},
		saveGate: gate,
	}
	s := newTestSession(store, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Grade(scheduler.CorrectHard)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain() error = %v, want deadline exceeded", err)
	}
}

func TestStartPrefetchesPictures(t *testing.T) {
	store := &fakeStore{cards: []models.Card{
		{Index: 2, QuestionPicture: "https://img.example/a.png", AnswerPicture: "https://img.example/b.png"},
		{Index: 3},
	}}
	cache := &fakeCache{}
	s := newTestSession(store, cache, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var refs []pictures.Ref
	for time.Now().Before(deadline) {
		refs = cache.requested()
		if len(refs) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	want := []pictures.Ref{
		{URL: "https://img.example/a.png", Name: "q2"},
		{URL: "https://img.example/b.png", Name: "a2"},
	}
	if len(refs) != len(want) {
		t.Fatalf("prefetched %d refs, want %d", len(refs), len(want))
	}
	for i, ref := range refs {
		if ref != want[i] {
			t.Errorf("ref[%d] = %+v, want %+v", i, ref, want[i])
		}
	}
}

func TestCurrentCardPictures(t *testing.T) {
	store := &fakeStore{cards: []models.Card{
		{Index: 2, QuestionPicture: "https://img.example/a.png"},
	}}
	cache := &fakeCache{pics: map[string]pictures.Picture{
		"q2": {Path: "/tmp/q2.png", X: 260, Y: 365, W: 1400, H: 350},
	}}
	s := newTestSession(store, cache, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pic, ok, err := s.QuestionPicture(context.Background())
	if err != nil || !ok {
		t.Fatalf("QuestionPicture() = %v, %v, %v", pic, ok, err)
	}
	if pic.Path != "/tmp/q2.png" {
		t.Errorf("picture path = %q", pic.Path)
	}

	// The card has no answer image, so no lookup happens.
	if _, ok, err := s.AnswerPicture(context.Background()); ok || err != nil {
		t.Errorf("AnswerPicture() ok = %v, err = %v, want absent", ok, err)
	}
}
