package transcode

import "errors"

var (
	// ErrJobNotFound is returned when no active job matches.
	ErrJobNotFound = errors.New("transcoding job not found")

	// ErrJobExited is returned when acting on a job whose encoder has exited.
	ErrJobExited = errors.New("transcoding job has exited")

	// ErrDuplicateJob is returned when a job with the same id is registered twice.
	ErrDuplicateJob = errors.New("transcoding job already registered")
)
