package platform

import (
	"fmt"
	"strings"
)

type Platform string

const (
	Twitter  Platform = "twitter"
	LinkedIn Platform = "linkedin"
	Bluesky  Platform = "bluesky"
)

// BlueskyMaxGraphemes is the post length limit enforced by the Bluesky app view.
const BlueskyMaxGraphemes = 300

// All lists the supported platforms in display order.
var All = []Platform{Twitter, LinkedIn, Bluesky}

func Parse(value string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(value))) {
	case Twitter, "x":
		return Twitter, nil
	case LinkedIn:
		return LinkedIn, nil
	case Bluesky, "bsky":
		return Bluesky, nil
	default:
		return "", fmt.Errorf("unknown platform %q", value)
	}
}

func (p Platform) String() string {
	return string(p)
}

func (p Platform) DisplayName() string {
	switch p {
	case Twitter:
		return "Twitter"
	case LinkedIn:
		return "LinkedIn"
	case Bluesky:
		return "Bluesky"
	default:
		return string(p)
	}
}

// MaxLength is the content ceiling in grapheme clusters; 0 means unbounded.
func (p Platform) MaxLength() int {
	if p == Bluesky {
		return BlueskyMaxGraphemes
	}
	return 0
}
