package models

import "time"

// Input processing status constants
const (
	StatusFitted  = "fitted"  // Spectrum fitted and table written
	StatusSkipped = "skipped" // Skipped (ledger entry or existing output)
	StatusFailed  = "failed"  // Engine failure, timeout, or write error
)

// InputResult represents the outcome of processing a single input spectrum
type InputResult struct {
	Input     string        // Spectrum path as given on the command line
	Status    string        // Status: "fitted", "skipped", "failed"
	Reason    string        // Why a spectrum was skipped (empty otherwise)
	Rows      []FitRow      // Fitted rows (empty for skips and failures)
	TablePath string        // Output table path (empty for skips and failures)
	Err       error         // Failure cause (nil otherwise)
	Duration  time.Duration // Time spent on this input
}

// RunSummary represents the aggregate result of a fit run
type RunSummary struct {
	RunID        string        // UUID of this run in the results store
	Total        int           // Number of inputs dispatched
	Fitted       int           // Inputs fitted successfully
	Skipped      int           // Inputs skipped
	Failed       int           // Inputs that failed
	MissingIDs   []string      // Target IDs that matched no spectrum file
	Duration     time.Duration // Wall-clock time for the whole run
	FailedInputs []InputResult // Details of failed inputs
}
