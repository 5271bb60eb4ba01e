package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrJobAlreadyRunning  = errors.New("workspace already has an active indexing job")
	ErrJobNotActive       = errors.New("no active indexing job for workspace")
	ErrNoDocuments        = errors.New("no documents matched the indexing request")
	ErrJobCancelled       = errors.New("indexing job was cancelled")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrEmptyModelResponse = errors.New("model returned an empty response")
	ErrMalformedAnalysis  = errors.New("model response failed schema validation")
	ErrAnalysisAlreadySet = errors.New("page analysis has already been recorded")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context passed to repository")
	ErrTerminalStatus     = errors.New("job is already in a terminal status")
)
