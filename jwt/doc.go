// Package jwt builds and checks compact access tokens: base64url codec,
// allow-listed signing over golang-jwt signing methods, optional token
// prefixes and the stateless part of claim validation.
package jwt
