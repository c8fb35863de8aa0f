package version

// Version is the current build version of argo-datapage.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/rxtech-lab/argo-datapage/internal/version.Version=1.2.3"
// The default value "main" indicates a development build.
var Version = "main"

// ProtocolVersion is the data service wire protocol spoken by this build.
// Client and server must agree on major and minor.
const ProtocolVersion = "1.0.0"

// GetVersion returns the current build version.
func GetVersion() string {
	return Version
}
