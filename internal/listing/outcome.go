package listing

import "time"

// Outcome is the per-URL result of a batch. Exactly one of Record or Err is set.
type Outcome struct {
	URL      string
	Record   *Record
	Commit   CommitResult
	Err      error
	Attempts int
}

// Succeeded reports whether the listing was extracted and committed.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Record != nil
}

// Batch aggregates outcomes in discovery order.
type Batch struct {
	SearchURL    string
	Outcomes     []Outcome
	Retries      int
	// HookFailures counts post-commit hook errors. They never change an outcome.
	HookFailures int
	Started      time.Time
	Finished     time.Time
}

// Successes counts successful outcomes.
func (b Batch) Successes() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Failures counts failed outcomes.
func (b Batch) Failures() int {
	return len(b.Outcomes) - b.Successes()
}

// Records returns the successfully committed records in order.
func (b Batch) Records() []*Record {
	out := make([]*Record, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		if o.Succeeded() {
			out = append(out, o.Record)
		}
	}
	return out
}
