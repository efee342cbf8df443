package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStats aggregates the outcome of one queue processing run.
type ProcessingStats struct {
	ID             uuid.UUID
	Processed      int
	AutoApproved   int
	RequiresReview int
	Rejected       int
	Failed         int
	Duration       time.Duration
	RanAt          time.Time
}
