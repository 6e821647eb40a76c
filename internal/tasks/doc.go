// Package tasks turns a prompt into a Spotify playlist with real-time progress reporting.
//
// # Generation
//
// [PlaylistEngine.Generate] runs in five phases:
//
//  1. Plan: split the prompt into search queries ([PlanQueries])
//  2. Search: query the Spotify catalogue once per query, throttled by a shared [rate.Limiter]
//  3. Select: interleave the results, dropping duplicate URIs, up to the track budget
//  4. Create: create a public playlist named after the prompt
//  5. Add: append the selected tracks in batches
//
// A failed search is reported and skipped; the run fails only when every search fails
// or no track was found, in which case no playlist is created.
//
// # Agent
//
// [Agent.Generate] hands the prompt to a chat model and executes the tool calls it
// makes (search_items, create_playlist, add_tracks) until it answers in plain text.
// The runner picks the agent when an OpenAI key is configured and the engine otherwise.
//
// # Progress Reporting
//
// Progress is sent as [ProgressUpdate] values over an optional channel.
// Updates use select with default so a slow reader never blocks generation.
package tasks
