// Package server is the aria backend: the HTTP endpoints the submission controller talks to,
// the Spotify OAuth callback, and the session layer behind them.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
// [NewRouter] assembles the full backend with [Recover], [Logging] and, optionally, [RateLimit].
//
// # Endpoints
//
// [App] serves:
//   - GET / returns {connected, pending_prompt, result}; the last result is handed out once
//   - POST /generate_async stores the prompt as pending, answers 401 {need_auth, auth_url}
//     when Spotify is not connected, otherwise generates and returns the result
//   - POST /finish_generation completes the pending prompt: 400 {"error":"no_prompt"} when there
//     is none, 401 {"error":"no_spotify_client"} when Spotify is not connected
//   - GET /latest_result returns the latest result or 204
//
// # Sessions
//
// A session is a row in the sessions table named by the aria_session cookie. The cookie value
// and the OAuth state parameter are both HS256 tokens issued by [Signer], so the callback can
// find the session that started authorization even when the browser holding the Spotify
// consent page never saw the cookie.
//
// Spotify tokens are checked against /me on use. A rejected token is refreshed once and
// cleared when the refresh fails.
//
// # OAuth Callback Handler
//
// [OAuthHandler] validates the signed state, exchanges the authorization code, stores the
// tokens and reports the outcome to a [Reporter], which in the CLI is the authorization
// window's side of the handshake.
package server
