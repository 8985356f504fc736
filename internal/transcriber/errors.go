package transcriber

import "errors"

// ErrExecutableNotFound is returned when a local backend binary is missing.
var ErrExecutableNotFound = errors.New("backend executable not found")

// ErrModelNotFound is returned when a local model file is missing.
var ErrModelNotFound = errors.New("model file not found")

// FatalTranscriptionError marks an error as non-recoverable for the process.
type FatalTranscriptionError struct {
	Err error
}

func (e *FatalTranscriptionError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal transcription error"
	}
	return e.Err.Error()
}

func (e *FatalTranscriptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewFatalTranscriptionError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalTranscriptionError{Err: err}
}

func IsFatalTranscriptionError(err error) bool {
	var fatal *FatalTranscriptionError
	return errors.As(err, &fatal)
}
