// ABOUTME: Per-user reading preferences owned by a session actor
// ABOUTME: Genre normalization, append-only ratings, defaults and summary helpers

package bookshelf

import (
	"math"
	"slices"
	"strings"
	"time"
)

// DefaultUserName is used when the identity has neither display name nor login.
const DefaultUserName = "Reader"

// RecentLimit is how many of the latest ratings are shown and sent to the recommender.
const RecentLimit = 3

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// BookRating is one entry in the reading history. Entries are never edited.
type BookRating struct {
	Title   string    `json:"title"`
	Author  string    `json:"author"`
	Rating  int       `json:"rating"`
	AddedAt time.Time `json:"addedAt"`
}

// Preferences is the durable state of one session actor.
type Preferences struct {
	UserName         string       `json:"userName,omitempty"`
	FavoriteGenres   []string     `json:"favoriteGenres"`
	BooksRead        []BookRating `json:"booksRead"`
	SessionStarted   time.Time    `json:"sessionStarted"`
	InteractionCount int          `json:"interactionCount"`
}

// Init fills absent fields with defaults and leaves present ones alone, so
// running it on partially restored state is safe.
func (p *Preferences) Init(displayName, login string, now time.Time) {
	if p.UserName == "" {
		switch {
		case strings.TrimSpace(displayName) != "":
			p.UserName = strings.TrimSpace(displayName)
		case strings.TrimSpace(login) != "":
			p.UserName = strings.TrimSpace(login)
		default:
			p.UserName = DefaultUserName
		}
	}
	if p.FavoriteGenres == nil {
		p.FavoriteGenres = []string{}
	}
	if p.BooksRead == nil {
		p.BooksRead = []BookRating{}
	}
	if p.SessionStarted.IsZero() {
		p.SessionStarted = now
	}
	if p.InteractionCount < 0 {
		p.InteractionCount = 0
	}
}

// NormalizeGenre lowercases and trims a genre name.
func NormalizeGenre(genre string) string {
	return strings.ToLower(strings.TrimSpace(genre))
}

// HasGenre reports whether genre is already a favorite, after normalization.
func (p *Preferences) HasGenre(genre string) bool {
	return slices.Contains(p.FavoriteGenres, NormalizeGenre(genre))
}

// AddGenre appends the normalized genre unless it is already present.
// It returns the stored form and whether it was added.
func (p *Preferences) AddGenre(genre string) (string, bool) {
	g := NormalizeGenre(genre)
	if g == "" || slices.Contains(p.FavoriteGenres, g) {
		return g, false
	}
	p.FavoriteGenres = append(p.FavoriteGenres, g)
	return g, true
}

// ValidRating reports whether r is within [MinRating, MaxRating].
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// AddRating appends an entry to the history.
func (p *Preferences) AddRating(title, author string, rating int, at time.Time) BookRating {
	entry := BookRating{
		Title:   strings.TrimSpace(title),
		Author:  strings.TrimSpace(author),
		Rating:  rating,
		AddedAt: at,
	}
	p.BooksRead = append(p.BooksRead, entry)
	return entry
}

// RecentBooks returns up to RecentLimit of the latest ratings, oldest first.
func (p *Preferences) RecentBooks() []BookRating {
	start := max(len(p.BooksRead)-RecentLimit, 0)
	return slices.Clone(p.BooksRead[start:])
}

// AverageRating returns the mean rating rounded to one decimal, and false when
// nothing has been rated.
func (p *Preferences) AverageRating() (float64, bool) {
	if len(p.BooksRead) == 0 {
		return 0, false
	}
	sum := 0
	for _, b := range p.BooksRead {
		sum += b.Rating
	}
	mean := float64(sum) / float64(len(p.BooksRead))
	return math.Round(mean*10) / 10, true
}

// SessionMinutes is the whole number of minutes since the session started.
func (p *Preferences) SessionMinutes(now time.Time) int {
	if p.SessionStarted.IsZero() || now.Before(p.SessionStarted) {
		return 0
	}
	return int(now.Sub(p.SessionStarted) / time.Minute)
}

// Touch records one successful tool invocation.
func (p *Preferences) Touch() {
	p.InteractionCount++
}
