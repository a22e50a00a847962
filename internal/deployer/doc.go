// Package deployer is the HTTP client for the zync deployer service.
//
// The deployer owns provisioning and scheduling of challenge instances; this
// package only speaks its wire protocol:
//
//   - Player endpoints: GET /status, POST /deploy, POST /extend, POST /terminate
//   - Admin endpoints under /admin/ for listing and bulk-managing deployments
//
// Every request is authenticated with a bearer token supplied by the caller.
// Non-2xx responses are converted into typed errors ([AuthError],
// [NotFoundError], [ClientError], [ServerError]); transport failures become
// [NetworkError], and an aborted request wraps [ErrCancelled] so callers can
// drop it silently.
package deployer
