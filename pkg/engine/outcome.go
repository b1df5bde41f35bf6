package engine

import "time"

// Result is what happened to one plan step.
type Result string

const (
	ResultApplied    Result = "applied"
	ResultSkipped    Result = "skipped"
	ResultFailed     Result = "failed"
	ResultRolledBack Result = "rolledBack"
)

// Reasons recorded on outcomes that were not applied.
const (
	ReasonNotAcknowledged       = "not-acknowledged"
	ReasonManualOnly            = "manual-only"
	ReasonHaltedByRollback      = "halted-by-prior-rollback"
	ReasonAborted               = "aborted-by-operator"
	ReasonLockContention        = "LockContention"
	ReasonModuleFailure         = "module-failure"
	ReasonSnapshotFailed        = "snapshot-failed"
	ReasonPreProtectFailed      = "pre-protect-failed"
	ReasonVerificationFailed    = "post-verify-failed"
	ReasonRestoreFailed         = "restore-failed"
	ReasonFixTimeout            = "fix-timeout"
	ReasonUnknownModule         = "unknown-module"
	ReasonTemporaryRuleRetained = "temporary-allow-rule-retained"
)

// FixOutcome records the execution of one plan step.
type FixOutcome struct {
	FixID       string        `json:"fix_id"`
	ModuleName  string        `json:"module"`
	FindingIDs  []string      `json:"finding_ids,omitempty"`
	DangerClass DangerClass   `json:"danger_class"`
	Result      Result        `json:"result"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	BackupRefs  []string      `json:"backup_refs,omitempty"`
	Executed    bool          `json:"executed"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
}

// NewOutcome starts an outcome for a step.
func NewOutcome(step PlanStep) FixOutcome {
	return FixOutcome{
		FixID:       step.FixID,
		ModuleName:  step.ModuleName,
		FindingIDs:  append([]string(nil), step.FindingIDs...),
		DangerClass: step.DangerClass,
	}
}

// Problem reports whether the outcome must be listed in the final report.
func (o FixOutcome) Problem() bool {
	return o.Result != ResultApplied
}

// Bad reports whether the outcome makes the run fail.
func (o FixOutcome) Bad() bool {
	return o.Result == ResultFailed || o.Result == ResultRolledBack
}
