package config

// Version is the gateway version, overridable at build time via
// -ldflags "-X github.com/companionhq/companion-gateway/internal/config.Version=...".
var Version = "0.3.0"

// GetVersion returns the current gateway version.
func GetVersion() string {
	return Version
}
