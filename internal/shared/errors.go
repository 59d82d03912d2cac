package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Remote errors
	ErrAuthFailed          = fmt.Errorf("authentication failed")
	ErrAPIRequest          = fmt.Errorf("API request failed")
	ErrNotFound            = fmt.Errorf("resource not found")
	ErrTransientRemote     = fmt.Errorf("remote temporarily unavailable")
	ErrBatchTooLarge       = fmt.Errorf("batch exceeds append limit")
	ErrPartialBatchFailure = fmt.Errorf("batch append failed")
	ErrTargetTypeInvalid   = fmt.Errorf("target is not a page")

	// Asset errors
	ErrAssetTooLarge     = fmt.Errorf("asset exceeds size limit")
	ErrAssetUploadFailed = fmt.Errorf("asset upload failed")

	// Job errors
	ErrCapacityExceeded = fmt.Errorf("job capacity exceeded")
	ErrCanceled         = fmt.Errorf("job canceled")
	ErrJobNotFound      = fmt.Errorf("job not found")

	// Capture store errors
	ErrDumpNotFound    = fmt.Errorf("dump not found")
	ErrDumpNotReady    = fmt.Errorf("dump is incomplete")
	ErrInvalidDumpName = fmt.Errorf("invalid dump name")

	// Input validation errors
	ErrInvalidInput      = fmt.Errorf("invalid input")
	ErrInvalidIdentifier = fmt.Errorf("invalid identifier")
	ErrMissingArgument   = fmt.Errorf("missing required argument")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
)
