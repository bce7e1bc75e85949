package engine

import "errors"

// Error taxonomy of the pipeline boundary. A cycle either completes (possibly
// with zero visible trackables) or reports one of these; the registry and
// camera model stay usable after any single failure.
var (
	// ErrInvalidFrame flags a submitted buffer whose length does not match
	// width*height*4.
	ErrInvalidFrame = errors.New("invalid frame buffer")

	// ErrInvalidDefinition flags an unparsable trackable or calibration
	// definition. For trackables it fails only that registration.
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrNotInitialized flags an operation attempted before Initialize and
	// LoadCameraParameters, or after Shutdown.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrNoFrame flags a detection cycle run without a pending frame.
	ErrNoFrame = errors.New("no frame submitted")

	// ErrUnknownOption flags a set/get on an unsupported parameter name.
	ErrUnknownOption = errors.New("unknown option")
)
