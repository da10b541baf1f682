package models

import "fmt"

type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformX         Platform = "x"
	PlatformPinterest Platform = "pinterest"
)

var AllPlatforms = []Platform{PlatformFacebook, PlatformInstagram, PlatformX, PlatformPinterest}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if s == "twitter" {
		return PlatformX, nil
	}
	for _, known := range AllPlatforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

func (p Platform) String() string {
	return string(p)
}
