package hermes

import (
	"encoding/json"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

const (
	SubjectTranscriptReady     = "swarm.scribe.transcript.ready"
	SubjectExtractionCompleted = "swarm.scribe.extraction.completed"
	SubjectAgentRegistered     = "swarm.agent.scribe.registered"
)

// TranscriptEvent asks the service to extract one lesson. Options are
// decoded over the defaults; a URL is used as the link when meta has none.
type TranscriptEvent struct {
	LessonMeta extractor.LessonMeta `json:"lesson_meta"`
	Transcript string               `json:"transcript"`
	Options    json.RawMessage      `json:"options,omitempty"`
	URL        string               `json:"url,omitempty"`
}

// ExtractionCompleted is published after every run, including runs that
// fell back to an empty result.
type ExtractionCompleted struct {
	LessonID   string         `json:"lesson_id"`
	RunID      string         `json:"run_id,omitempty"`
	Records    int            `json:"records"`
	TypeCounts map[string]int `json:"type_counts"`
	Warnings   []string       `json:"warnings"`
	Pushed     map[string]int `json:"pushed,omitempty"`
}
