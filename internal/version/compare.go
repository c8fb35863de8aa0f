package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// CheckProtocolCompatibility checks whether a client speaking clientVersion can
// talk to a data service announcing serverVersion.
//
// Compatibility Rules:
//   - If either version is "main" (development build), the check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 is compatible with 1.2.5)
//
// Failures carry errors.ErrCodeProtocolMismatch.
func CheckProtocolCompatibility(clientVersion, serverVersion string) error {
	clientVersion = strings.TrimPrefix(clientVersion, "v")
	serverVersion = strings.TrimPrefix(serverVersion, "v")

	if clientVersion == "main" || serverVersion == "main" {
		return nil
	}

	clientSemver, err := semver.NewVersion(clientVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeProtocolMismatch, err, "invalid client protocol version '%s'", clientVersion)
	}

	serverSemver, err := semver.NewVersion(serverVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeProtocolMismatch, err, "invalid server protocol version '%s'", serverVersion)
	}

	if clientSemver.Major() != serverSemver.Major() {
		return errors.Newf(errors.ErrCodeProtocolMismatch,
			"major version mismatch: client speaks %d.x.x but server speaks %d.x.x",
			clientSemver.Major(), serverSemver.Major())
	}

	if clientSemver.Minor() != serverSemver.Minor() {
		return errors.Newf(errors.ErrCodeProtocolMismatch,
			"minor version mismatch: client speaks %d.%d.x but server speaks %d.%d.x",
			clientSemver.Major(), clientSemver.Minor(),
			serverSemver.Major(), serverSemver.Minor())
	}

	return nil
}
