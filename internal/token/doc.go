// Package token supplies the bearer tokens the deployer expects.
//
// Tokens are HS256 JWTs bound to one entity (a challenge for a player, or a
// challenge for the admin status view). They come either from the CTFd
// platform ([Platform]) or, when the deployer secret is known locally, from a
// [Signer]. A [Cache] sits in front of either source, reusing tokens until
// their exp claim passes and collapsing concurrent refreshes for the same
// entity into one request.
package token
