package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidTimeframe     ErrorCode = 103
	ErrCodeInvalidDataKind      ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 109

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeHistoricalDataFailed  ErrorCode = 203

	// Compute errors (600-699)
	ErrCodeBacktestFailed     ErrorCode = 600
	ErrCodeResultStoreFailed  ErrorCode = 601
	ErrCodeRequestSuperseded  ErrorCode = 603
	ErrCodeMissingPageManager ErrorCode = 604

	// Transport errors (900-949)
	ErrCodeTransportUnavailable ErrorCode = 900
	ErrCodeTransportTimeout     ErrorCode = 901
	ErrCodeTransportFailed      ErrorCode = 902
	ErrCodePollTimeout          ErrorCode = 903
	ErrCodeProtocolMismatch     ErrorCode = 904

	// Decode errors (950-969)
	ErrCodeChunkDecodeFailed ErrorCode = 950
	ErrCodeFrameInvalid      ErrorCode = 951
	ErrCodeEncodeFailed      ErrorCode = 952

	// Page errors (1000-1049)
	ErrCodePageFailed       ErrorCode = 1000
	ErrCodeDependencyFailed ErrorCode = 1001
	ErrCodePageNotReady     ErrorCode = 1002
	ErrCodePageNotFound     ErrorCode = 1003
	ErrCodeManagerClosed    ErrorCode = 1004

	// Computed value errors (1050-1099)
	ErrCodeComputeFailed       ErrorCode = 1050
	ErrCodeStaleComputation    ErrorCode = 1051
	ErrCodeCalculatorNotFound  ErrorCode = 1052
	ErrCodeInsufficientCandles ErrorCode = 1053
)
