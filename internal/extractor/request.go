package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ChunkDescriptor tells the analyzer where a chunk sits in a multi-chunk run.
// SeqStart is zero when chunks are analyzed concurrently and the running
// sequence is not known yet.
type ChunkDescriptor struct {
	ChunkID     int `json:"chunk_id"`
	ChunkTotal  int `json:"chunk_total"`
	SeqStart    int `json:"seq_start,omitempty"`
	StartOffset int `json:"start_offset"`
}

// Request is the payload sent to the analyzer for one chunk.
type Request struct {
	LessonMeta LessonMeta       `json:"lesson_meta"`
	Options    Options          `json:"options"`
	Transcript string           `json:"transcript"`
	Chunk      *ChunkDescriptor `json:"chunk,omitempty"`
}

// BuildRequest assembles the analyzer payload. The chunk descriptor is only
// attached when the transcript was split.
func BuildRequest(c Chunk, meta LessonMeta, opts Options, seqStart int) Request {
	req := Request{
		LessonMeta: meta,
		Options:    opts,
		Transcript: c.Text,
	}
	if c.Total > 1 {
		req.Chunk = &ChunkDescriptor{
			ChunkID:     c.Index,
			ChunkTotal:  c.Total,
			SeqStart:    seqStart,
			StartOffset: c.StartOffset,
		}
	}
	return req
}

// Prompt renders the request as the user message for the analyzer.
func (r Request) Prompt() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return fmt.Sprintf(userPromptTemplate, strings.TrimSpace(buf.String())), nil
}
