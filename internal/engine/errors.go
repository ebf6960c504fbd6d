package engine

import "fmt"

// ParameterError reports caller-supplied parameters that failed validation
// before any connection was touched.
type ParameterError struct {
	Reason string
}

func (e *ParameterError) Error() string {
	return "invalid parameter: " + e.Reason
}

// RuleError reports a business precondition discovered mid-transaction,
// such as a blocked account or a missing entity. It always triggers a
// rollback; when the rollback succeeds the violation itself is reported,
// never swallowed behind a generic transaction failure.
type RuleError struct {
	Reason string
}

func (e *RuleError) Error() string {
	return e.Reason
}

// TxStage identifies where inside the transaction lifecycle a failure
// occurred.
type TxStage string

const (
	StageAcquire  TxStage = "acquire"
	StageBegin    TxStage = "begin"
	StageExec     TxStage = "exec"
	StageCommit   TxStage = "commit"
	StageRollback TxStage = "rollback"
)

// TxError reports a failure of the transaction machinery itself. The
// rollback stage is the only unrecoverable one: the database may hold
// partial state and the error must be escalated, never retried.
type TxError struct {
	Op    string
	Stage TxStage
	Err   error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s: transaction %s failed: %v", e.Op, e.Stage, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// Unrecoverable reports whether the failure left the database state
// unknown.
func (e *TxError) Unrecoverable() bool {
	return e.Stage == StageRollback
}
