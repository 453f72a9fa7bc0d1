package version_test

import (
	"testing"

	"dlqwatch/internal/version"
)

func TestStringNeverEmpty(t *testing.T) {
	t.Parallel()

	if version.String() == "" {
		t.Fatal("unstamped builds must still report a version")
	}
}
