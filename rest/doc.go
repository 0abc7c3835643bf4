// Package rest exposes the token endpoints over HTTP with gin.
//
// Routes:
//
//	POST /refresh-token     {refresh_token}      -> {token, refresh_token}
//	POST /validate-token    bearer               -> {message}
//	POST /google-auth       {id_token}           -> {token, refresh_token, user, message}
//	GET  /google-user-info  bearer               -> {user_id, ..., linked}
//	POST /login             {username, password} -> {token, refresh_token, user}
//	POST /logout            bearer, {all}        -> {message, tokens, refresh_tokens}
//
// Errors use the [middleware.ErrorBody] envelope {code, message, status}.
package rest
