package testutil

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLogger(t *testing.T) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.AddHook(testNameHook(t.Name()))
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// testNameHook tags every entry with the test that produced it.
type testNameHook string

func (h testNameHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h testNameHook) Fire(e *logrus.Entry) error {
	e.Data["test"] = string(h)
	return nil
}
