package sim

import (
	"fmt"
	"time"

	"github.com/fortiblox/X1-Testbench/internal/types"
	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/ledger"
	"github.com/fortiblox/X1-Testbench/pkg/svm"
	"github.com/fortiblox/X1-Testbench/pkg/svm/programs/computebudget"
)

// Policy selects how a batch treats instruction failures.
type Policy uint8

const (
	// PolicyStopOnFailure halts at the first failure; the batch rolls
	// back and later instructions never run.
	PolicyStopOnFailure Policy = iota

	// PolicyAllowFailures runs every instruction and rolls back only
	// when at least one failed.
	PolicyAllowFailures

	// PolicyDryRun runs every instruction and always rolls back, even
	// on all-success.
	PolicyDryRun
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyStopOnFailure:
		return "stop-on-failure"
	case PolicyAllowFailures:
		return "allow-failures"
	case PolicyDryRun:
		return "dry-run"
	default:
		return "unknown"
	}
}

// BatchStatus is the aggregate status of an executed batch.
type BatchStatus uint8

const (
	// StatusAllSucceeded: every outcome succeeded and the mutations
	// were committed.
	StatusAllSucceeded BatchStatus = iota

	// StatusPartialFailure: at least one outcome failed; the batch was
	// rolled back.
	StatusPartialFailure

	// StatusRolledBackDryRun: the batch ran under the dry-run policy;
	// the store was restored regardless of outcomes.
	StatusRolledBackDryRun
)

// String returns the status name.
func (s BatchStatus) String() string {
	switch s {
	case StatusAllSucceeded:
		return "all-succeeded"
	case StatusPartialFailure:
		return "partial-failure"
	case StatusRolledBackDryRun:
		return "rolled-back-dry-run"
	default:
		return "unknown"
	}
}

// InstructionOutcome is the recorded result of one instruction.
type InstructionOutcome struct {
	// Index is the instruction's position in the batch.
	Index int

	// Logs are the engine log lines for the instruction.
	Logs []string

	// ComputeUnits is the compute consumed by the instruction.
	ComputeUnits uint64

	// Err is nil for a success. Failed instructions left the store
	// untouched.
	Err error
}

// Succeeded reports whether the instruction applied.
func (o *InstructionOutcome) Succeeded() bool {
	return o.Err == nil
}

// BatchResult is the aggregate of one batch run.
type BatchResult struct {
	// Outcomes holds one entry per executed instruction, in execution
	// order. Under stop-on-failure this can be shorter than the queued
	// batch.
	Outcomes []InstructionOutcome

	// Status is the aggregate batch status.
	Status BatchStatus

	// Restored reports whether the store was rolled back to the
	// pre-batch snapshot.
	Restored bool

	// ComputeUnits is the total consumed across all outcomes.
	ComputeUnits uint64

	// Duration is the wall-clock time the batch took, including
	// snapshot and restore.
	Duration time.Duration
}

// Succeeded reports whether every instruction applied and the batch
// committed.
func (r *BatchResult) Succeeded() bool {
	return r.Status == StatusAllSucceeded
}

// FailedAt returns the index of the first failed outcome, or -1 when
// none failed.
func (r *BatchResult) FailedAt() int {
	for i := range r.Outcomes {
		if r.Outcomes[i].Err != nil {
			return i
		}
	}
	return -1
}

// Last returns the final outcome, or nil for an empty batch.
func (r *BatchResult) Last() *InstructionOutcome {
	if len(r.Outcomes) == 0 {
		return nil
	}
	return &r.Outcomes[len(r.Outcomes)-1]
}

// BatchError reports the instruction failure that stopped a checked
// batch run.
type BatchError struct {
	// Index is the failed instruction's position in the batch.
	Index int

	// Err is the instruction's failure.
	Err error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("instruction %d failed: %v", e.Index, e.Err)
}

// Unwrap returns the underlying instruction failure.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// TransactionBuilder accumulates instructions for one batch. It is a
// pure accumulator: nothing touches the store until a finalizing method
// runs. Builders are single use; appending after finalization or
// finalizing twice panics.
type TransactionBuilder struct {
	sim          *Simulator
	label        string
	instructions []svm.Instruction
	finalized    bool
}

// Transaction starts an empty batch.
func (s *Simulator) Transaction() *TransactionBuilder {
	return &TransactionBuilder{sim: s}
}

// AddInstruction appends an instruction to the batch. Returns the
// builder for chaining.
func (b *TransactionBuilder) AddInstruction(ix svm.Instruction) *TransactionBuilder {
	if b.finalized {
		panic("sim: AddInstruction on a finalized TransactionBuilder")
	}
	b.instructions = append(b.instructions, ix)
	return b
}

// Label names the batch for ledger records. Returns the builder for
// chaining.
func (b *TransactionBuilder) Label(label string) *TransactionBuilder {
	if b.finalized {
		panic("sim: Label on a finalized TransactionBuilder")
	}
	b.label = label
	return b
}

// Len returns the number of queued instructions.
func (b *TransactionBuilder) Len() int {
	return len(b.instructions)
}

// finalize marks the builder used. It panics on a second finalizing
// call, before any snapshot or store access.
func (b *TransactionBuilder) finalize() {
	if b.finalized {
		panic("sim: TransactionBuilder already finalized")
	}
	b.finalized = true
}

// Execute runs the batch under the stop-on-failure policy. When an
// instruction fails, execution stops and the store is rolled back; the
// returned error is a *BatchError carrying the failed index, with the
// result still returned alongside it. Any other error is a fatal store
// fault.
func (b *TransactionBuilder) Execute() (*BatchResult, error) {
	b.finalize()
	result, err := b.sim.runBatch(b.label, b.instructions, PolicyStopOnFailure)
	if err != nil {
		return nil, err
	}
	if i := result.FailedAt(); i >= 0 {
		return result, &BatchError{Index: i, Err: result.Outcomes[i].Err}
	}
	return result, nil
}

// ExecuteAllowFailures runs the batch under the allow-failures policy:
// every instruction executes, and the batch rolls back when at least
// one failed. Individual failures are reported in the outcomes, not as
// an error.
func (b *TransactionBuilder) ExecuteAllowFailures() (*BatchResult, error) {
	b.finalize()
	return b.sim.runBatch(b.label, b.instructions, PolicyAllowFailures)
}

// DryRun runs the batch under the dry-run policy: every instruction
// executes and the store is always restored, even on all-success.
func (b *TransactionBuilder) DryRun() (*BatchResult, error) {
	b.finalize()
	return b.sim.runBatch(b.label, b.instructions, PolicyDryRun)
}

// runBatch is the rollback controller. It snapshots the store, executes
// the batch under the policy, restores the snapshot when the policy
// demands it, and appends a ledger record when a recorder is attached.
func (s *Simulator) runBatch(label string, instructions []svm.Instruction, policy Policy) (*BatchResult, error) {
	start := time.Now()

	// A batch with malformed or duplicate compute-budget directives is
	// rejected wholesale, before the store is touched.
	limits, err := computebudget.ExtractLimits(instructions)
	if err != nil {
		return nil, fmt.Errorf("compute budget directives: %w", err)
	}
	limit := uint64(limits.ComputeUnitLimit)

	var digestBefore types.Hash
	if s.recorder != nil {
		digestBefore, err = s.StateDigest()
		if err != nil {
			return nil, fmt.Errorf("digest store: %w", err)
		}
	}

	// The snapshot is taken unconditionally, even for an empty batch.
	snapshot, err := accounts.TakeSnapshot(s.store)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	result := &BatchResult{}
	rollback := policy == PolicyDryRun

	for i, ix := range instructions {
		svmResult, err := s.engine.ProcessWithLimit(ix, limit)
		if err != nil {
			// Fatal store fault. Put the store back if we can; never
			// claim a rollback we could not perform.
			if restoreErr := snapshot.Restore(s.store); restoreErr != nil {
				return nil, fmt.Errorf("instruction %d: %v (rollback failed: %w)", i, err, restoreErr)
			}
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}

		result.Outcomes = append(result.Outcomes, InstructionOutcome{
			Index:        i,
			Logs:         svmResult.Logs,
			ComputeUnits: svmResult.ComputeUnits,
			Err:          svmResult.Err,
		})
		result.ComputeUnits += svmResult.ComputeUnits

		if svmResult.Err != nil {
			rollback = true
			if policy == PolicyStopOnFailure {
				break
			}
		}
	}

	if rollback {
		if err := snapshot.Restore(s.store); err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
		result.Restored = true
	}

	switch {
	case policy == PolicyDryRun:
		result.Status = StatusRolledBackDryRun
	case result.FailedAt() >= 0:
		result.Status = StatusPartialFailure
	default:
		result.Status = StatusAllSucceeded
	}

	result.Duration = time.Since(start)

	if s.recorder != nil {
		if err := s.recordBatch(label, policy, result, digestBefore); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// recordBatch appends one flight-recorder entry for an executed batch.
func (s *Simulator) recordBatch(label string, policy Policy, result *BatchResult, digestBefore types.Hash) error {
	digestAfter, err := s.StateDigest()
	if err != nil {
		return fmt.Errorf("digest store: %w", err)
	}

	outcomes := make([]ledger.Outcome, len(result.Outcomes))
	for i, o := range result.Outcomes {
		outcomes[i] = ledger.Outcome{
			Index:        o.Index,
			ComputeUnits: o.ComputeUnits,
		}
		if o.Err != nil {
			outcomes[i].Err = o.Err.Error()
		}
	}

	record := &ledger.Record{
		Label:        label,
		Policy:       policy.String(),
		Status:       result.Status.String(),
		Restored:     result.Restored,
		Outcomes:     outcomes,
		ComputeUnits: result.ComputeUnits,
		Duration:     result.Duration,
		DigestBefore: digestBefore,
		DigestAfter:  digestAfter,
	}
	if err := s.recorder.Append(record); err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}
