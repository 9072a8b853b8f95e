package core

// Process exit codes. Signal exits follow the 128 + signal convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeConfig means the environment is missing keys or has bad values.
	ExitCodeConfig = 2

	// ExitCodeIngestFailed means classification, generation or editing failed
	// and nothing was added to the collection.
	ExitCodeIngestFailed = 3

	ExitCodeSIGINT  = 130
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeConfig:
		return "configuration error"
	case ExitCodeIngestFailed:
		return "ingest failed"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}
