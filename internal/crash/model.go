package crash

import (
	"time"

	"github.com/google/uuid"

	"hermescore/internal/events"
)

// Record describes one host crash artifact (a WER report, a macOS
// diagnostic report, an apport or coredump entry) in normalized form.
type Record struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	OS                 events.OS `json:"os"`
	Source             string    `json:"source"`
	CrashType          string    `json:"crashType"`
	Code               string    `json:"code,omitempty"`
	Summary            string    `json:"summary"`
	SuspectedComponent string    `json:"suspectedComponent,omitempty"`
	RawPath            string    `json:"rawPath,omitempty"`
	Imported           bool      `json:"imported"`
}

var crashNamespace = uuid.MustParse("9b1de1a4-0f6c-4c53-8f4e-2a84f1c0d9b7")

// DeriveID computes a record identity from the artifact's source path.
// Re-importing the same artifact collides on this ID, which is what makes
// import idempotent.
func DeriveID(sourcePath string) string {
	return uuid.NewSHA1(crashNamespace, []byte(sourcePath)).String()
}
