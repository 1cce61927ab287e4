// Package exitcode lists the process exit statuses gtodo reports. Scripts can
// rely on them: a change that was only queued locally because the service was
// unreachable still exits 0, and the queue is visible through "gtodo status".
package exitcode

const (
	Success = 0

	// UserError covers bad arguments, out-of-range task numbers and unknown
	// action ids. Nothing was changed.
	UserError = 1

	// AuthError means no usable token: never logged in, or the grant was
	// revoked. Local changes are kept and sync after "gtodo login".
	AuthError = 2

	// BackendError is a remote failure during an explicit sync, or local
	// state that could not be written.
	BackendError = 3
)
