// ABOUTME: Text rendering for ratings and the recommendation prompt
// ABOUTME: Stars, reaction tiers and the context block sent to the recommender

package bookshelf

import (
	"fmt"
	"strings"
)

// Stars renders a rating as filled and empty stars, e.g. 3 -> "★★★☆☆".
func Stars(rating int) string {
	n := min(max(rating, 0), MaxRating)
	return strings.Repeat("★", n) + strings.Repeat("☆", MaxRating-n)
}

// Reaction returns the response tier for a rating.
func Reaction(rating int) string {
	switch {
	case rating >= 4:
		return "Wonderful! Sounds like that one really worked for you."
	case rating >= 3:
		return "A solid read, even if it wasn't a favorite."
	default:
		return "Thanks for the honest rating. Not every book lands."
	}
}

// FormatBook renders one history entry on a single line.
func FormatBook(b BookRating) string {
	return fmt.Sprintf("%q by %s %s (%d/5)", b.Title, b.Author, Stars(b.Rating), b.Rating)
}

// BuildPrompt assembles the recommender prompt from the user's name, genres,
// recent ratings and mean rating. Empty sections are left out.
func BuildPrompt(p *Preferences, count int) string {
	var b strings.Builder

	name := p.UserName
	if name == "" {
		name = DefaultUserName
	}
	fmt.Fprintf(&b, "You are a knowledgeable librarian recommending books to %s.\n", name)

	if len(p.FavoriteGenres) > 0 {
		fmt.Fprintf(&b, "Favorite genres: %s.\n", strings.Join(p.FavoriteGenres, ", "))
	}

	recent := p.RecentBooks()
	if len(recent) > 0 {
		b.WriteString("Recently rated books:\n")
		for _, book := range recent {
			fmt.Fprintf(&b, "- %q by %s: %d/5\n", book.Title, book.Author, book.Rating)
		}
	}

	if avg, ok := p.AverageRating(); ok {
		fmt.Fprintf(&b, "Average rating across %d books: %.1f/5.\n", len(p.BooksRead), avg)
	}

	noun := "books"
	if count == 1 {
		noun = "book"
	}
	fmt.Fprintf(&b, "Recommend %d %s they have not rated yet. For each, give the title, the author and one sentence on why it fits.", count, noun)

	return b.String()
}
