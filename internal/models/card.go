package models

import (
	"strconv"
	"strings"
	"time"
)

// Sheet column layout, A through I. The first five columns hold scheduling
// state and are the only ones ever written back; F/G are display text and
// H/I are optional picture URLs.
const (
	colFirstPractice = iota
	colNextPractice
	colStreak
	colInterval
	colEasiness
	colQuestion
	colAnswer
	colQuestionPicture
	colAnswerPicture

	// MinRowCells is the minimum number of populated cells for a row to be
	// treated as a complete card. Shorter rows are partially written and
	// are skipped.
	MinRowCells = 7
)

// Defaults applied when the scheduling cells are blank (a card that has
// never been reviewed).
const (
	DefaultInterval = 1.0
	DefaultEasiness = 2.5
)

// Card represents a single reviewable item backed by one spreadsheet row.
type Card struct {
	// Index is the 1-based row number in the sheet and the stable handle
	// used to address writes. Data rows start at row 2.
	Index int

	Question string
	Answer   string

	// QuestionPicture and AnswerPicture are optional image URLs; empty
	// means the card has no picture.
	QuestionPicture string
	AnswerPicture   string

	// FirstPractice is zero until the card's first successful review and
	// is never changed afterwards.
	FirstPractice time.Time

	// NextPractice determines due-ness. Zero means the card has never been
	// scheduled and is due immediately.
	NextPractice time.Time

	Streak   int
	Interval float64 // days until the next review
	Easiness float64 // memory-strength factor, floored at 1.3
}

// Due reports whether the card should be reviewed at the given instant.
func (c Card) Due(now time.Time) bool {
	return c.NextPractice.IsZero() || c.NextPractice.Before(now)
}

// CardFromRow builds a Card from one fetched sheet row. The second return
// value is false when the row has fewer than MinRowCells populated cells.
func CardFromRow(index int, row []string) (Card, bool) {
	if len(row) < MinRowCells {
		return Card{}, false
	}

	c := Card{
		Index:    index,
		Question: row[colQuestion],
		Answer:   row[colAnswer],
		Streak:   parseIntCell(row[colStreak]),
		Interval: parseFloatCell(row[colInterval], DefaultInterval),
		Easiness: parseFloatCell(row[colEasiness], DefaultEasiness),
	}
	c.FirstPractice = parseTimeCell(row[colFirstPractice])
	c.NextPractice = parseTimeCell(row[colNextPractice])

	if len(row) > colQuestionPicture {
		c.QuestionPicture = strings.TrimSpace(row[colQuestionPicture])
	}
	if len(row) > colAnswerPicture {
		c.AnswerPicture = strings.TrimSpace(row[colAnswerPicture])
	}
	return c, true
}

// SchedulingValues returns the five scheduling cells in sheet order
// (A through E), typed so the values API stores numbers as numbers.
func (c Card) SchedulingValues() []any {
	return []any{
		FormatTime(c.FirstPractice),
		FormatTime(c.NextPractice),
		c.Streak,
		c.Interval,
		c.Easiness,
	}
}

// FormatTime renders a timestamp the way it is stored in the sheet.
// Zero times render as the empty cell.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// timeLayouts are accepted when reading timestamp cells. Rows written by
// older clients carry zone-less ISO timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimeCell(cell string) time.Time {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseIntCell(cell string) int {
	n, err := strconv.Atoi(strings.TrimSpace(cell))
	if err != nil {
		return 0
	}
	return n
}

func parseFloatCell(cell string, def float64) float64 {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return def
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return def
	}
	return f
}
