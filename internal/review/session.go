// Package review orchestrates one review session: it fetches the due
// cards, walks them in random order, applies the scheduler's update on
// each grade, and persists updates in the background so the interaction
// loop never waits on the network.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"recallsheet/internal/models"
	"recallsheet/internal/pictures"
	"recallsheet/internal/scheduler"
)

// Store is the remote card store the session reads from and writes to.
// *sheets.Store satisfies it.
type Store interface {
	FetchCards(ctx context.Context, worksheet string) ([]models.Card, error)
	SaveCard(ctx context.Context, worksheet string, card models.Card) error
}

// PictureCache prefetches and serves card images. *pictures.Cache
// satisfies it.
type PictureCache interface {
	DownloadAll(ctx context.Context, refs []pictures.Ref)
	Get(ctx context.Context, name string) (pictures.Picture, error)
}

// Notifier receives best-effort failure notices. It must not block.
type Notifier func(message string)

// Config wires a Session.
type Config struct {
	Store     Store
	Worksheet string
	Scheduler *scheduler.Scheduler
	Pictures  PictureCache // nil disables picture handling
	Notify    Notifier     // nil discards notifications
	Now       func() time.Time
	Shuffle   bool
}

// Session is a single pass over the currently due cards. It is driven by
// one goroutine (the interaction loop); only the save worker runs aside.
type Session struct {
	cfg      Config
	cards    []models.Card
	idx      int
	revealed bool

	saves      chan models.Card
	workerDone chan struct{}
}

// New creates an unstarted session.
func New(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notify == nil {
		cfg.Notify = func(string) {}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New()
	}
	return &Session{cfg: cfg}
}

// Start fetches the deck and keeps the cards that are due now, in random
// order. A fetch failure is fatal: there is nothing to review. Picture
// prefetch for the whole batch starts in the background before Start
// returns.
func (s *Session) Start(ctx context.Context) error {
	all, err := s.cfg.Store.FetchCards(ctx, s.cfg.Worksheet)
	if err != nil {
		return fmt.Errorf("failed to fetch cards: %w", err)
	}

	now := s.cfg.Now()
	due := make([]models.Card, 0, len(all))
	for _, card := range all {
		if card.Due(now) {
			due = append(due, card)
		}
	}
	if s.cfg.Shuffle {
		rand.Shuffle(len(due), func(i, j int) {
			due[i], due[j] = due[j], due[i]
		})
	}
	s.cards = due

	// Each card is graded at most once, so the queue never fills and
	// Grade never blocks on it.
	s.saves = make(chan models.Card, len(due)+1)
	s.workerDone = make(chan struct{})
	go s.saveWorker(ctx)

	if s.cfg.Pictures != nil {
		go s.cfg.Pictures.DownloadAll(ctx, PictureRefs(due))
	}
	return nil
}

// Current returns the card under review, or false when the session is
// finished.
func (s *Session) Current() (models.Card, bool) {
	if s.idx >= len(s.cards) {
		return models.Card{}, false
	}
	return s.cards[s.idx], true
}

// Reveal marks the current card's answer as shown. The mark resets when
// the session advances to the next card.
func (s *Session) Reveal() {
	if _, ok := s.Current(); ok {
		s.revealed = true
	}
}

// Revealed reports whether the current card's answer is shown.
func (s *Session) Revealed() bool {
	return s.revealed
}

// Progress reports the 1-based position and the session size.
func (s *Session) Progress() (int, int) {
	pos := s.idx + 1
	if pos > len(s.cards) {
		pos = len(s.cards)
	}
	return pos, len(s.cards)
}

// Grade applies the score to the current card, queues the update for
// background persistence, and advances to the next card. It never waits
// on the network; a failed write surfaces later through the notifier.
func (s *Session) Grade(score scheduler.Score) {
	card, ok := s.Current()
	if !ok {
		return
	}
	updated := s.cfg.Scheduler.Review(card, score)
	s.cards[s.idx] = updated
	s.idx++
	s.revealed = false
	s.saves <- updated
}

// Skip advances past the current card without grading it.
func (s *Session) Skip() {
	if s.idx < len(s.cards) {
		s.idx++
		s.revealed = false
	}
}

// QuestionPicture returns the display box for the current card's question
// image. ok is false when the card has none.
func (s *Session) QuestionPicture(ctx context.Context) (pictures.Picture, bool, error) {
	card, current := s.Current()
	if !current || card.QuestionPicture == "" || s.cfg.Pictures == nil {
		return pictures.Picture{}, false, nil
	}
	pic, err := s.cfg.Pictures.Get(ctx, QuestionPictureName(card))
	return pic, err == nil, err
}

// AnswerPicture returns the display box for the current card's answer
// image. ok is false when the card has none.
func (s *Session) AnswerPicture(ctx context.Context) (pictures.Picture, bool, error) {
	card, current := s.Current()
	if !current || card.AnswerPicture == "" || s.cfg.Pictures == nil {
		return pictures.Picture{}, false, nil
	}
	pic, err := s.cfg.Pictures.Get(ctx, AnswerPictureName(card))
	return pic, err == nil, err
}

// Drain closes the save queue and waits for queued writes to finish, so
// a session end does not silently discard pending updates.
func (s *Session) Drain(ctx context.Context) error {
	if s.saves == nil {
		return nil
	}
	close(s.saves)
	select {
	case <-s.workerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// saveWorker persists graded cards one at a time. Failures are logged and
// notified but never interrupt the review flow; the remote copy catches
// up on a later session.
func (s *Session) saveWorker(ctx context.Context) {
	defer close(s.workerDone)
	for card := range s.saves {
		if err := s.cfg.Store.SaveCard(ctx, s.cfg.Worksheet, card); err != nil {
			slog.Warn("failed to save card", "row", card.Index, "error", err)
			s.cfg.Notify(fmt.Sprintf("Could not update card at row %d", card.Index))
		}
	}
}

// QuestionPictureName is the cache key for a card's question image.
func QuestionPictureName(card models.Card) string {
	return fmt.Sprintf("q%d", card.Index)
}

// AnswerPictureName is the cache key for a card's answer image.
func AnswerPictureName(card models.Card) string {
	return fmt.Sprintf("a%d", card.Index)
}

// PictureRefs lists every image referenced by the batch, keyed the same
// way the display path looks them up.
func PictureRefs(cards []models.Card) []pictures.Ref {
	var refs []pictures.Ref
	for _, card := range cards {
		if card.QuestionPicture != "" {
			refs = append(refs, pictures.Ref{URL: card.QuestionPicture, Name: QuestionPictureName(card)})
		}
		if card.AnswerPicture != "" {
			refs = append(refs, pictures.Ref{URL: card.AnswerPicture, Name: AnswerPictureName(card)})
		}
	}
	return refs
}
