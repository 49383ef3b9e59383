// Logs how long an operation took.
package timing

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Starts a timer and returns a function that logs the elapsed time at debug
// level when called. Intended for use with defer:
//
//	defer timing.Track("pull base image", logrus.Fields{"ref": ref})()
func Track(name string, fields logrus.Fields) func() {
	start := time.Now()
	return func() {
		logrus.WithFields(fields).
			WithField("elapsed", time.Since(start).Round(time.Millisecond)).
			Debugf("%s finished", name)
	}
}
