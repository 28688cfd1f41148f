package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// global accessible logger
var (
	Log *logrus.Logger
)

// This init function is needed for testing cases, where the entry point is
// not main function. Unit test will fail with nil pointer dereference if we
// don't init here.
func init() {
	initLogger()
}

func initLogger() {
	Log = logrus.New()
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := strings.ToLower(os.Getenv("SHUTTERFEED_LOG_LEVEL"))
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Log.SetLevel(parsed)

	env := os.Getenv("SHUTTERFEED_ENV")
	if len(env) == 0 {
		env = "dev"
	}
	Log.WithField("env", env).Debug("logger initialized")
}
