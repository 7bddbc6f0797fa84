package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	if got := String(); got != "v1.2.3" {
		t.Errorf("String() = %q, want v1.2.3", got)
	}

	Version = "dev"
	if got := String(); got == "" {
		t.Error("String() returned empty version")
	}
}

func TestUserAgent(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "v0.9.0"

	ua := UserAgent()
	if !strings.HasPrefix(ua, "erdlink-go/v0.9.0 ") {
		t.Errorf("UserAgent() = %q, want erdlink-go/v0.9.0 prefix", ua)
	}
	if !strings.Contains(ua, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("UserAgent() = %q, missing platform", ua)
	}
}
