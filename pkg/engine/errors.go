package engine

import "errors"

// Error kinds shared by the planning and execution layers.
var (
	// ErrEmptySelection means the selection produced no plan steps. Callers
	// treat it as "nothing to do".
	ErrEmptySelection = errors.New("selection produced an empty remediation plan")
	// ErrUnknownFix is returned when a finding references a fix no module declares.
	ErrUnknownFix = errors.New("unknown fix id")
	// ErrPermissionDenied marks a confirm-required step run without acknowledgment.
	ErrPermissionDenied = errors.New("step requires operator acknowledgment")
	// ErrProbeTimeout is recorded when a module audit exceeds its time bound.
	ErrProbeTimeout = errors.New("module audit timed out")
	// ErrModuleFixFailure wraps a failure reported by a module's Fix.
	ErrModuleFixFailure = errors.New("module fix failed")
	// ErrNotAutoFixable is the sentinel a module returns for manual-only fixes.
	ErrNotAutoFixable = errors.New("fix requires manual intervention")
	// ErrLockContention is returned when a fix could not obtain a system lock
	// (package manager, firewall) within its bounded wait.
	ErrLockContention = errors.New("lock contention")
	// ErrLockoutVerification is returned when the management channel could not
	// be verified after a lockout-protected step.
	ErrLockoutVerification = errors.New("management channel verification failed")
)
