// Package parser talks to the external save parsing service.
package parser

import (
	"context"
	"fmt"
	"strconv"
)

// RejectionKindInvalidPatch marks saves from a patch the parser does not support.
const RejectionKindInvalidPatch = "InvalidPatch"

// Patch is the four-part game version a save was written with.
type Patch struct {
	Major    int `json:"major"`
	Minor    int `json:"minor"`
	Patch    int `json:"patch"`
	Revision int `json:"revision"`
}

// Shorthand renders the major.minor form used in user-facing messages.
func (p Patch) Shorthand() string {
	return strconv.Itoa(p.Major) + "." + strconv.Itoa(p.Minor)
}

// String renders all four components.
func (p Patch) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", p.Major, p.Minor, p.Patch, p.Revision)
}

// Metadata is the structured description of a successfully parsed save.
type Metadata struct {
	Date           string `json:"date"`
	RawDays        int64  `json:"rawDays"`
	Patch          Patch  `json:"patch"`
	Tag            string `json:"tag"`
	AchievementIDs []int  `json:"achievementIds"`
	PlaythroughID  string `json:"playthroughId"`
	ContentHash    string `json:"contentHash"`
	Difficulty     string `json:"difficulty,omitempty"`
	GameName       string `json:"gameName,omitempty"`
}

// RejectionError is the typed refusal returned by the parser for saves it
// will not accept.
type RejectionError struct {
	Kind           string `json:"kind"`
	PatchShorthand string `json:"patchShorthand"`
}

func (e *RejectionError) Error() string {
	if e.Kind == RejectionKindInvalidPatch {
		return fmt.Sprintf("parser: unsupported patch %s", e.PatchShorthand)
	}
	return fmt.Sprintf("parser: save rejected (%s)", e.Kind)
}

// Request carries the bytes to parse and their declared content encoding.
type Request struct {
	Data            []byte
	ContentEncoding string
}

// Gateway parses raw save bytes.
type Gateway interface {
	Parse(ctx context.Context, request Request) (Metadata, error)
}
