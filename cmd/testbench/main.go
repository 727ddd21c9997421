// X1-Testbench: scenario runner for the transaction batching harness.
//
// Reads a declarative scenario file, seeds a simulator, executes the
// scenario's instruction batches under their rollback policies, and
// reports one line per instruction and per batch. Expect clauses turn a
// scenario into a self-checking test: any violated expectation makes the
// run exit non-zero.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fortiblox/X1-Testbench/pkg/accounts"
	"github.com/fortiblox/X1-Testbench/pkg/sim"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	scenarioPath = flag.String("scenario", "", "Scenario JSON file (required)")
	fixturePath  = flag.String("fixture", "", "Fixture file to preload into the account store")
	saveFixture  = flag.String("save-fixture", "", "Write the post-run account store to a fixture file")
	ledgerPath   = flag.String("ledger", "", "Record every batch to the ledger file")
	printDigest  = flag.Bool("digest", false, "Print the final state digest")
	verbose      = flag.Bool("v", false, "Print program logs for every instruction")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("X1-Testbench %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(0)
	if *scenarioPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	scenario, err := loadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}

	s, err := sim.NewWithConfig(sim.Config{
		Slot:          scenario.Slot,
		UnixTimestamp: scenario.UnixTimestamp,
		LedgerPath:    *ledgerPath,
	})
	if err != nil {
		log.Fatalf("Failed to create simulator: %v", err)
	}
	defer s.Close()

	if *fixturePath != "" {
		if err := accounts.LoadFixture(s.Store(), *fixturePath); err != nil {
			log.Fatalf("Failed to load fixture: %v", err)
		}
		fmt.Printf("loaded fixture %s\n", *fixturePath)
	}

	r := newRunner(s, *verbose)
	if err := r.seed(scenario); err != nil {
		log.Fatalf("Failed to seed scenario state: %v", err)
	}

	if scenario.Name != "" {
		fmt.Printf("scenario %q: %d batches\n", scenario.Name, len(scenario.Batches))
	}

	violations := 0
	for i := range scenario.Batches {
		batch := &scenario.Batches[i]
		batchViolations, err := r.runBatch(i, batch)
		if err != nil {
			log.Fatalf("Batch %d aborted: %v", i, err)
		}
		for _, v := range batchViolations {
			fmt.Printf("  EXPECT violated: %s\n", v)
		}
		violations += len(batchViolations)
	}

	if *saveFixture != "" {
		if err := accounts.WriteFixture(s.Store(), *saveFixture); err != nil {
			log.Fatalf("Failed to write fixture: %v", err)
		}
		fmt.Printf("wrote fixture %s\n", *saveFixture)
	}

	if *printDigest {
		digest, err := s.StateDigest()
		if err != nil {
			log.Fatalf("Failed to digest store: %v", err)
		}
		fmt.Printf("state digest %s\n", digest)
	}

	if violations > 0 {
		log.Fatalf("%d expectation(s) violated", violations)
	}
}

// runBatch builds and executes one batch, prints its report, and
// evaluates its expect clause. The returned error is a fatal store
// fault; instruction failures are part of the report.
func (r *runner) runBatch(index int, batch *BatchSpec) ([]string, error) {
	policy, err := parsePolicy(batch.Policy)
	if err != nil {
		return nil, err
	}

	label := batch.Label
	if label == "" {
		label = fmt.Sprintf("batch-%d", index)
	}

	builder := r.sim.Transaction().Label(label)
	for i := range batch.Instructions {
		ix, err := r.buildInstruction(&batch.Instructions[i])
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		builder.AddInstruction(ix)
	}

	fmt.Printf("batch %q policy=%s: %d instructions\n", label, policy, len(batch.Instructions))

	var result *sim.BatchResult
	switch policy {
	case sim.PolicyStopOnFailure:
		var batchErr error
		result, batchErr = builder.Execute()
		if batchErr != nil && result == nil {
			return nil, batchErr
		}
	case sim.PolicyAllowFailures:
		result, err = builder.ExecuteAllowFailures()
		if err != nil {
			return nil, err
		}
	case sim.PolicyDryRun:
		result, err = builder.DryRun()
		if err != nil {
			return nil, err
		}
	}

	for _, o := range result.Outcomes {
		name := batch.Instructions[o.Index].Type
		if o.Succeeded() {
			fmt.Printf("  [%d] ok    cu=%-6d %s\n", o.Index, o.ComputeUnits, name)
		} else {
			fmt.Printf("  [%d] FAIL  cu=%-6d %s: %v\n", o.Index, o.ComputeUnits, name, o.Err)
		}
		if r.verbose {
			for _, line := range o.Logs {
				fmt.Printf("        %s\n", line)
			}
		}
	}
	if skipped := len(batch.Instructions) - len(result.Outcomes); skipped > 0 {
		fmt.Printf("  (%d instruction(s) skipped after failure)\n", skipped)
	}

	fmt.Printf("batch %q status=%s restored=%v cu=%d duration=%s\n",
		label, result.Status, result.Restored, result.ComputeUnits, result.Duration)

	if batch.Expect == nil {
		return nil, nil
	}
	return r.checkExpectations(batch.Expect, result), nil
}
