// Package sheets is the remote card store. Each worksheet row is one card;
// reads cover columns A2:I and writes touch only the five scheduling
// columns A:E of a single row.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"recallsheet/internal/models"
)

// DefaultBaseURL is the production values API.
const DefaultBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// dataRange covers all card rows; data starts at row 2, below the header.
const dataRange = "A2:I"

// Error is a non-2xx response from the remote store. Body is the response
// body verbatim, for diagnostics.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sheet request failed with status %d: %s", e.StatusCode, e.Body)
}

// TokenSource supplies a bearer token for each request.
// *auth.Session satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Store reads and writes cards in one remote spreadsheet.
type Store struct {
	baseURL string
	sheetID string
	tokens  TokenSource
	client  *http.Client
	retries int
}

// Option configures a Store.
type Option func(*Store)

// WithBaseURL points the store at a different API host, for tests.
func WithBaseURL(base string) Option {
	return func(s *Store) { s.baseURL = base }
}

// WithHTTPClient replaces the HTTP client. The client's timeout is the
// per-request timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) { s.client = client }
}

// NewStore creates a store for the given spreadsheet.
func NewStore(sheetID string, tokens TokenSource, opts ...Option) *Store {
	s := &Store{
		baseURL: DefaultBaseURL,
		sheetID: sheetID,
		tokens:  tokens,
		client:  &http.Client{Timeout: 15 * time.Second},
		retries: 2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Worksheets lists the selectable worksheet titles of the spreadsheet.
func (s *Store) Worksheets(ctx context.Context) ([]string, error) {
	reqURL := fmt.Sprintf("%s/%s?fields=sheets.properties.title", s.baseURL, s.sheetID)

	body, err := s.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse worksheet list: %w", err)
	}

	titles := make([]string, 0, len(payload.Sheets))
	for _, sheet := range payload.Sheets {
		titles = append(titles, sheet.Properties.Title)
	}
	return titles, nil
}

// FetchCards reads all card rows of the worksheet, in sheet order. Rows
// with fewer than seven populated cells are partially written and are
// skipped; the remaining cards carry their row number as Index.
// An empty worksheet name addresses the spreadsheet's default sheet.
func (s *Store) FetchCards(ctx context.Context, worksheet string) ([]models.Card, error) {
	reqURL := fmt.Sprintf("%s/%s/values/%s", s.baseURL, s.sheetID, rangeRef(worksheet, dataRange))

	body, err := s.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse card rows: %w", err)
	}

	cards := make([]models.Card, 0, len(payload.Values))
	for i, raw := range payload.Values {
		row := make([]string, len(raw))
		for j, cell := range raw {
			row[j] = cellString(cell)
		}
		// Row i of the fetched range is sheet row i+2.
		if card, ok := models.CardFromRow(i+2, row); ok {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

// SaveCard writes back the five scheduling columns of the card's row.
// Question, answer and picture columns are never touched.
func (s *Store) SaveCard(ctx context.Context, worksheet string, card models.Card) error {
	rng := rangeRef(worksheet, fmt.Sprintf("A%d:E%d", card.Index, card.Index))
	reqURL := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", s.baseURL, s.sheetID, rng)

	payload, err := json.Marshal(map[string]any{
		"values": []any{card.SchedulingValues()},
	})
	if err != nil {
		return fmt.Errorf("failed to encode card %d: %w", card.Index, err)
	}

	_, err = s.do(ctx, http.MethodPut, reqURL, payload)
	return err
}

// do issues one authorized request, retrying transport-level failures a
// bounded number of times. A response is never retried: a non-2xx status,
// 401 included, is a hard failure carrying the body verbatim.
func (s *Store) do(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &Error{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		return respBody, nil
	}
	return nil, fmt.Errorf("sheet request failed after %d attempts: %w", s.retries+1, lastErr)
}

// rangeRef qualifies an A1 range with the worksheet title when one is
// configured, escaped for use in a URL path.
func rangeRef(worksheet, a1 string) string {
	if worksheet == "" {
		return a1
	}
	return url.PathEscape(worksheet + "!" + a1)
}

// cellString renders a fetched cell as text. The values API usually
// returns strings, but unformatted numeric cells arrive as JSON numbers.
func cellString(cell any) string {
	switch v := cell.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
