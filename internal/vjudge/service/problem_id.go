package service

import (
	"strings"
	"unicode"

	appErr "vjudge/pkg/errors"
)

const maxProblemIDLength = 64

// LocalProblemID is the platform pid an imported remote problem is stored under:
// the remote id itself, which must be a single path-safe token.
func LocalProblemID(remoteID string) (string, error) {
	if remoteID == "" || len(remoteID) > maxProblemIDLength {
		return "", appErr.Newf(appErr.InvalidParams, "invalid remote problem id %q", remoteID)
	}
	if strings.ContainsFunc(remoteID, func(r rune) bool {
		return r == '/' || r == '\\' || unicode.IsSpace(r) || unicode.IsControl(r)
	}) {
		return "", appErr.Newf(appErr.InvalidParams, "invalid remote problem id %q", remoteID)
	}
	return remoteID, nil
}
