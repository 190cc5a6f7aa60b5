// ABOUTME: The four bookshelf tools: getProfile, addGenre, rateBook, getRecommendations
// ABOUTME: Each handler mutates only the calling actor's preferences

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/bookshelf-gateway/internal/bookshelf"
)

// Tool names.
const (
	ToolGetProfile         = "getProfile"
	ToolAddGenre           = "addGenre"
	ToolRateBook           = "rateBook"
	ToolGetRecommendations = "getRecommendations"
)

// DefaultRecommendationCount applies when getRecommendations has no count.
const DefaultRecommendationCount = 3

// RecommendationApology is returned whenever the recommender fails.
const RecommendationApology = "Sorry, I couldn't put together recommendations right now. Your preferences are saved, so please try again in a little while."

// ProfileData is the structured reply of getProfile.
type ProfileData struct {
	UserName         string                 `json:"userName"`
	FavoriteGenres   []string               `json:"favoriteGenres"`
	RecentBooks      []bookshelf.BookRating `json:"recentBooks"`
	SessionMinutes   int                    `json:"sessionMinutes"`
	InteractionCount int                    `json:"interactionCount"`
}

// GenreData is the structured reply of addGenre.
type GenreData struct {
	Genre          string   `json:"genre"`
	Added          bool     `json:"added"`
	FavoriteGenres []string `json:"favoriteGenres"`
}

// RatingData is the structured reply of rateBook.
type RatingData struct {
	Book        bookshelf.BookRating   `json:"book"`
	Stars       string                 `json:"stars"`
	Reaction    string                 `json:"reaction"`
	RecentBooks []bookshelf.BookRating `json:"recentBooks"`
}

// RecommendationData is the structured reply of getRecommendations.
type RecommendationData struct {
	Count      int    `json:"count"`
	Text       string `json:"text"`
	GenresUsed int    `json:"genresUsed"`
	BooksUsed  int    `json:"booksUsed"`
	Degraded   bool   `json:"degraded"`
}

type getProfileInput struct{}

type addGenreInput struct {
	Genre string `json:"genre" validate:"notblank,max=100"`
}

type rateBookInput struct {
	Title  string   `json:"title" validate:"notblank,max=300"`
	Author string   `json:"author" validate:"notblank,max=200"`
	Rating *float64 `json:"rating" validate:"required,wholenum,min=1,max=5"`
}

type getRecommendationsInput struct {
	Count *float64 `json:"count" validate:"omitempty,wholenum,min=1,max=5"`
}

func (d *Dispatcher) bookshelfTools() []*Tool {
	return []*Tool{
		newTool(ToolGetProfile,
			"Show the reader's favorite genres, latest ratings, session length and interaction count",
			`{"type":"object","properties":{},"additionalProperties":false}`,
			d.getProfile),
		newTool(ToolAddGenre,
			"Add a favorite genre (case and surrounding spaces are ignored)",
			`{"type":"object","properties":{"genre":{"type":"string","minLength":1,"description":"Genre name, e.g. science fiction"}},"required":["genre"]}`,
			d.addGenre),
		newTool(ToolRateBook,
			"Record a rating from 1 to 5 for a book the reader has finished",
			`{"type":"object","properties":{"title":{"type":"string","minLength":1},"author":{"type":"string","minLength":1},"rating":{"type":"integer","minimum":1,"maximum":5}},"required":["title","author","rating"]}`,
			d.rateBook),
		newTool(ToolGetRecommendations,
			"Suggest books based on favorite genres and ratings",
			`{"type":"object","properties":{"count":{"type":"integer","minimum":1,"maximum":5,"default":3,"description":"How many books to suggest"}}}`,
			d.getRecommendations),
	}
}

func (d *Dispatcher) getProfile(_ context.Context, c *Call, _ *getProfileInput) (*Result, error) {
	p := c.Prefs
	data := ProfileData{
		UserName:         p.UserName,
		FavoriteGenres:   append([]string{}, p.FavoriteGenres...),
		RecentBooks:      p.RecentBooks(),
		SessionMinutes:   p.SessionMinutes(c.Now),
		InteractionCount: p.InteractionCount,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📚 Reading profile for %s\n\n", p.UserName)
	if len(data.FavoriteGenres) == 0 {
		b.WriteString("Favorite genres: none yet\n")
	} else {
		fmt.Fprintf(&b, "Favorite genres: %s\n", strings.Join(data.FavoriteGenres, ", "))
	}
	if len(data.RecentBooks) == 0 {
		b.WriteString("Recent ratings: none yet\n")
	} else {
		b.WriteString("Recent ratings:\n")
		for _, book := range data.RecentBooks {
			fmt.Fprintf(&b, "- %s\n", bookshelf.FormatBook(book))
		}
	}
	fmt.Fprintf(&b, "Session length: %d minutes\n", data.SessionMinutes)
	fmt.Fprintf(&b, "Interactions: %d", data.InteractionCount)

	return &Result{Text: b.String(), Data: data}, nil
}

func (d *Dispatcher) addGenre(_ context.Context, c *Call, in *addGenreInput) (*Result, error) {
	genre, added := c.Prefs.AddGenre(in.Genre)
	data := GenreData{
		Genre:          genre,
		Added:          added,
		FavoriteGenres: append([]string{}, c.Prefs.FavoriteGenres...),
	}

	var text string
	if added {
		text = fmt.Sprintf("Added %q to your favorite genres.", genre)
	} else {
		text = fmt.Sprintf("%q is already one of your favorite genres.", genre)
	}
	text += "\nFavorite genres: " + strings.Join(data.FavoriteGenres, ", ")

	return &Result{Text: text, Data: data}, nil
}

func (d *Dispatcher) rateBook(_ context.Context, c *Call, in *rateBookInput) (*Result, error) {
	// Tags already enforce the range; this guards direct callers of the handler.
	rating := int(*in.Rating)
	if float64(rating) != *in.Rating || !bookshelf.ValidRating(rating) {
		return nil, &ValidationError{Tool: ToolRateBook, Field: "rating", Message: "rating must be between 1 and 5"}
	}

	entry := c.Prefs.AddRating(in.Title, in.Author, rating, c.Now)
	data := RatingData{
		Book:        entry,
		Stars:       bookshelf.Stars(entry.Rating),
		Reaction:    bookshelf.Reaction(entry.Rating),
		RecentBooks: c.Prefs.RecentBooks(),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rated %q by %s: %s\n%s\n\nRecent ratings:\n", entry.Title, entry.Author, data.Stars, data.Reaction)
	for _, book := range data.RecentBooks {
		fmt.Fprintf(&b, "- %s\n", bookshelf.FormatBook(book))
	}

	return &Result{Text: strings.TrimRight(b.String(), "\n"), Data: data}, nil
}

func (d *Dispatcher) getRecommendations(ctx context.Context, c *Call, in *getRecommendationsInput) (*Result, error) {
	count := DefaultRecommendationCount
	if in.Count != nil {
		count = int(*in.Count)
	}

	p := c.Prefs
	data := RecommendationData{
		Count:      count,
		GenresUsed: len(p.FavoriteGenres),
		BooksUsed:  len(p.BooksRead),
	}

	if d.recommender == nil {
		d.logger.Warn("no recommender configured")
		data.Degraded = true
		return &Result{Text: RecommendationApology, Data: data}, nil
	}

	prompt := bookshelf.BuildPrompt(p, count)
	text, err := d.recommender.Complete(ctx, prompt, d.maxTokens)
	if err != nil {
		d.logger.Warn("recommendation failed", "error", err, "count", count)
		data.Degraded = true
		return &Result{Text: RecommendationApology, Data: data}, nil
	}

	data.Text = text
	reply := fmt.Sprintf("%s\n\n(Based on %d favorite %s and %d rated %s.)",
		text,
		data.GenresUsed, plural(data.GenresUsed, "genre", "genres"),
		data.BooksUsed, plural(data.BooksUsed, "book", "books"))

	return &Result{Text: reply, Data: data}, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
