package internal

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		quiet bool
		debug bool
		want  logrus.Level
	}{
		{name: "default", want: logrus.InfoLevel},
		{name: "quiet", quiet: true, want: logrus.WarnLevel},
		{name: "debug", debug: true, want: logrus.DebugLevel},
		{name: "debug wins over quiet", quiet: true, debug: true, want: logrus.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, d := IsQuiet(), IsDebug()
			defer func() { SetQuiet(q); SetDebug(d) }()

			SetQuiet(tt.quiet)
			SetDebug(tt.debug)

			if got := LogLevel(); got != tt.want {
				t.Fatalf("LogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionStringLocal(t *testing.T) {
	v, s, c := version, stage, gitCommit
	defer func() { version, stage, gitCommit = v, s, c }()

	version, stage, gitCommit = "", "", ""
	if got := VersionString(); got != defaultLocalBuild {
		t.Fatalf("VersionString() = %q, want %q", got, defaultLocalBuild)
	}
	if got := UserAgent(); got != "dynamo-cli/dev" {
		t.Fatalf("UserAgent() = %q", got)
	}
}

func TestVersionStringPipeline(t *testing.T) {
	v, s, c := version, stage, gitCommit
	defer func() { version, stage, gitCommit = v, s, c }()

	version, stage, gitCommit = "v0.1.1", "main", "abc123"
	got := VersionString()
	if !strings.HasPrefix(got, "0.1.1 abc123 [") {
		t.Fatalf("VersionString() = %q, want prefix %q", got, "0.1.1 abc123 [")
	}

	stage = "release"
	got = VersionString()
	if !strings.HasPrefix(got, "0.1.1+release abc123 [") {
		t.Fatalf("VersionString() = %q, want stage suffix", got)
	}
}
