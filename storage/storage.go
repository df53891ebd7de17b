package storage

import "time"

const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
	OutcomeEmpty   = "empty"
)

// Invocation is one workflow run. Message text is deliberately absent.
type Invocation struct {
	ID         string        `bson:"_id"`
	Workflow   string        `bson:"workflow"`
	Platform   string        `bson:"platform"`
	AuthorID   string        `bson:"author_id"`
	Outcome    string        `bson:"outcome"`
	Duration   time.Duration `bson:"duration"`
	CreatedAt  time.Time     `bson:"created_at"`
	FinishedAt time.Time     `bson:"finished_at"`
}

// Usage aggregates invocation counts for a workflow
type Usage struct {
	Workflow string         `bson:"_id"`
	Total    int            `bson:"total"`
	Outcomes map[string]int `bson:"-"`
}

type UsageStorage interface {
	// Record saves a finished invocation
	Record(inv *Invocation) error
	// Summary returns per-workflow counts of invocations created since the given time
	Summary(since time.Time) ([]Usage, error)
	Close() error
}
