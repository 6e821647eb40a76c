// Package orchestrator drives a submission from prompt to playlist.
//
// A [Controller] owns one page load's [Context]: the visible [State], whether
// Spotify is connected, the pending prompt and the last result. It is built from
// the backend's initialisation payload and renders through a [Presenter].
//
//	Idle → (AwaitingAuth) → Generating → Done | Failed
//
// When the backend answers a submit with an authorization URL, the controller
// hands it to an [Authorizer] (an authflow.Waiter) and, once approved, resubmits
// the same prompt. Every failure ends in exactly one alert, except a redirect to
// Spotify, which is silent.
package orchestrator
