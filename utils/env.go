package utils

import "os"

// API level error codes returned in JSON bodies alongside the HTTP status.
const (
	ErrorNone           = 0
	ErrorSessionPending = 1001
	ErrorNotSignedIn    = 1002
	ErrorBadRequest     = 1003
	ErrorOperationFail  = 1004
)

func IsProdEnv() bool {
	return os.Getenv("SHUTTERFEED_ENV") == "prod"
}
