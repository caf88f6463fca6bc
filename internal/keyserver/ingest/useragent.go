package ingest

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	OSAndroid = "android"
	OSIOS     = "ios"
)

// UserAgent is the decoded "app;appVersion;build;os;osVersion" header sent by the apps.
type UserAgent struct {
	App        string
	AppVersion string
	Build      string
	OS         string
	OSVersion  string
}

// ParseUserAgent decodes header. Missing fields stay empty; a header in any other format
// yields a zero value.
func ParseUserAgent(header string) UserAgent {
	parts := strings.Split(header, ";")
	if len(parts) < 5 {
		return UserAgent{}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return UserAgent{
		App:        parts[0],
		AppVersion: parts[1],
		Build:      parts[2],
		OS:         strings.ToLower(parts[3]),
		OSVersion:  parts[4],
	}
}

// AppSemver returns the app version, or nil if it is not a version.
func (u UserAgent) AppSemver() *semver.Version {
	return parseVersion(u.AppVersion)
}

// OSSemver returns the OS version, or nil if it is not a version. A leading platform
// name such as "iOS13.6" is ignored.
func (u UserAgent) OSSemver() *semver.Version {
	return parseVersion(strings.TrimLeftFunc(u.OSVersion, func(r rune) bool {
		return (r < '0' || r > '9')
	}))
}

func parseVersion(s string) *semver.Version {
	// build suffixes like "1.0.5-prod" are handled by semver; a trailing "+" section too
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil
	}
	return v
}
