package domain

import "time"

// Category is a coarse tag derived from an item's title and body.
type Category string

const (
	CategoryNone   Category = ""
	CategoryMarket Category = "market"
	CategoryIPO    Category = "ipo"
	CategoryFlows  Category = "flows"
)

// Item is one candidate piece of content considered for posting.
type Item struct {
	ID          string
	Title       string
	Body        string
	Link        string
	Category    Category
	Source      string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// Empty reports whether the item carries nothing worth posting.
func (i Item) Empty() bool {
	return i.Title == "" && i.Body == ""
}

// JobOutcome enumerates how a job run ended.
type JobOutcome string

const (
	OutcomeSucceeded JobOutcome = "succeeded"
	OutcomeFailed    JobOutcome = "failed"
	OutcomeSkipped   JobOutcome = "skipped"
)
