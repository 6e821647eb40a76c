// Package services wraps the HTTP APIs aria depends on.
//
// # Spotify
//
// [SpotifyService] implements [OAuthService] with [oauth2] for the authorization code
// flow. Expired tokens are refreshed by the oauth2 token source; every refreshed token
// is reported through the callback set with [SpotifyService.SetTokenRefreshCallback]
// so the backend can persist it on the session.
//
// # Backend
//
// [APIService] makes raw requests to the aria backend and returns [APIResponse]
// values, leaving status interpretation to the caller.
//
// # Error Handling
//
//   - [shared.ErrNotAuthenticated] : no token configured
//   - [shared.ErrTokenExpired] : Spotify answered 401
//   - [shared.ErrAPIRequest] : any other non-2xx answer
package services
