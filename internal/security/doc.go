// Package security provides the validators that enforce the server's
// security boundary.
//
// Two validators cover the two guarded resource classes:
//
//   - Path prevents path traversal attacks (CWE-22): every filesystem
//     access is authorized against a whitelist of canonicalized root
//     directories, strictly after symlink and ".." resolution.
//
//   - URL prevents SSRF attacks (CWE-918): outbound fetches are
//     authorized against the classification of the resolved IP
//     addresses, and the connection is pinned to a vetted IP literal so
//     DNS rebinding between check and connect cannot bypass the check.
//
// The package also defines the error taxonomy shared by the accessors
// and the middleware chain: SecurityError, ValidationError,
// TimeoutError, UpstreamError and InternalError. Accessors return these
// unmodified; transformation and masking is middleware responsibility.
//
// Validators are immutable after construction and safe for concurrent
// use. Construction fails fast on an invalid policy (for example a
// whitelist root that does not exist), so a process never runs with an
// undefined security posture.
package security
