// Package tools defines the operations a signed-in reader can call through
// the session protocol and the dispatcher that runs them.
//
// # Tools
//
//	getProfile          genres, latest three ratings, session minutes, count
//	addGenre            genre: non-empty string
//	rateBook            title, author: non-empty; rating: integer 1..5
//	getRecommendations  count: integer 1..5, default 3
//
// # Dispatch
//
// Dispatch decodes the JSON arguments into the tool's input struct and checks
// its validate tags (go-playground/validator). Failures are reported as
// *ValidationError before any state is touched. After validation the
// interaction counter goes up by exactly one and the handler runs.
//
// getRecommendations never fails because of the recommender. A failed
// completion is logged and answered with RecommendationApology.
//
// The dispatcher holds no per-user state. Each call receives the calling
// actor's preferences in Call and the actor persists them afterwards.
package tools
