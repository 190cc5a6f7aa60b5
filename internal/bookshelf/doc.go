// Package bookshelf holds the reading preferences of a single user and the
// text helpers the tools build their replies from.
//
// Preferences is plain data. Favorite genres are stored normalized (trimmed,
// lowercased) and never repeat. The rating history only grows, and its
// entries are not edited after they are appended. InteractionCount only goes up.
//
// The package has no locking. A Preferences value belongs to exactly one
// session actor, which serializes every access.
package bookshelf
