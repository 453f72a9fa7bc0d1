// Package version exposes the dlqwatch build version.
package version

// version is stamped by the release build via
// -ldflags "-X dlqwatch/internal/version.version=v1.2.3".
var version = "dev" //nolint:gochecknoglobals // ldflags needs a package-level var

// String reports the version this binary was built as, or "dev" for
// unstamped builds.
func String() string {
	return version
}
