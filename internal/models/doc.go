// Package models defines domain entities and persistence interfaces for aria.
//
// DTOs passed between the playlist engine and the presentation layer:
//   - [GenerationResult] : the playlist produced for a prompt
//   - [Playlist], [Track] : Spotify objects picked by the engine
//
// Persistent entities implement [Model] and are stored through a [Repository]:
//   - [Session] : backend session with Spotify tokens, pending prompt and results
package models
