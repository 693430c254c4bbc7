// Package logging provides the structured logging infrastructure shared by
// every bookagent.dev component. It routes error-level output to stderr and
// everything else to stdout, so container log collectors can apply
// different handling per stream without parsing log content themselves.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter is an io.Writer that sends logrus's formatted error lines
// to stderr and every other level to stdout.
type OutputSplitter struct{}

func (s *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-wide logrus instance. Components should prefer a
// ContextLogger built on top of it (see ServiceLogger) rather than calling
// Logger directly, so log lines always carry a component/service tag.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
