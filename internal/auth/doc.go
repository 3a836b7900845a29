// Package auth issues and verifies the bearer tokens that guard the
// bridge service API.
//
// Tokens are HS256 JWTs signed with the configured secret. There is no
// user store: operators mint tokens with "lutronbridge token" and hand
// them to the tools that call the API. Authorisation is a static
// role-permission mapping (viewer → operator → admin).
package auth
