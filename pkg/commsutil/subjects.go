package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectLaunch      = "embed.launch"
	SubjectRemove      = "embed.remove"
	SubjectStateEvent  = "embed.state"
	subjectEmbedPrefix = "embed"
)

// safeToken makes an identity usable as a single subject token.
func safeToken(id string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(id)
}

// BuildHostSubject builds the subject the embedded context publishes to (host-bound traffic).
func BuildHostSubject(contextID string) string {
	return fmt.Sprintf("%s.%s.host", subjectEmbedPrefix, safeToken(contextID))
}

// BuildFrameSubject builds the subject the host publishes to (frame-bound traffic).
func BuildFrameSubject(contextID string) string {
	return fmt.Sprintf("%s.%s.frame", subjectEmbedPrefix, safeToken(contextID))
}

// BuildStateSubject builds a granular lifecycle event subject.
func BuildStateSubject(contextID string) string {
	return fmt.Sprintf("%s.%s.state", subjectEmbedPrefix, safeToken(contextID))
}
