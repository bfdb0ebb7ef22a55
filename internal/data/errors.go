package data

import (
	"errors"

	"github.com/target/cognitriage-api/internal/domain/model"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job id is unknown to the store.
	ErrJobNotFound = model.ErrJobNotFound
	// ErrJobIDRequired is returned when a lookup is made with an empty id.
	ErrJobIDRequired = errors.New("job_id is required")
)
