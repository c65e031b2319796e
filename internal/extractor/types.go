package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Learning table columns. Normalized records carry these keys in Fields.
const (
	FieldLessonID     = "课次ID"
	FieldSeq          = "条目序号"
	FieldType         = "学习类型"
	FieldTags         = "模块标签"
	FieldTitle        = "标题"
	FieldSummary      = "一句话总结"
	FieldKeywords     = "关键字"
	FieldMasteryState = "掌握状态"
	FieldMasteryScore = "掌握度"
	FieldNextReview   = "下次复习"
	FieldSource       = "来源"
	FieldLink         = "链接"
	FieldRelatedID    = "关联ID"
	FieldDetails      = "详情"
)

// Learning types.
const (
	TypeConcept  = "知识点"
	TypeSnippet  = "代码片段"
	TypePitfall  = "报错坑"
	TypeExercise = "练习题"
	TypeResource = "资源"
)

// Categories is the fixed set of learning types in display order.
var Categories = []string{TypeConcept, TypeSnippet, TypePitfall, TypeExercise, TypeResource}

const (
	DefaultType         = TypeConcept
	DefaultMasteryState = "待整理"
	DefaultMasteryScore = 1

	// LinkLabel is the display text of the hyperlink column.
	LinkLabel = "原文链接"
)

// textFields default to "" when the analyzer leaves them out.
var textFields = []string{FieldTags, FieldTitle, FieldSummary, FieldKeywords, FieldRelatedID, FieldDetails}

// LessonMeta identifies the material a run extracts from.
type LessonMeta struct {
	LessonID string `json:"lesson_id"`
	Source   string `json:"source"`
	Link     string `json:"link"`
	Language string `json:"language,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Options are passed through to the analyzer. Only the mastery defaults
// are applied locally; the rest are advisory.
type Options struct {
	MaxRecords                 int      `json:"max_records"`
	TypeWhitelist              []string `json:"type_whitelist"`
	TitleMaxChars              int      `json:"title_max_chars"`
	OneSentenceMaxChars        int      `json:"one_sentence_max_chars"`
	KeywordsMaxCount           int      `json:"keywords_max_count"`
	DetailsMaxChars            int      `json:"details_max_chars"`
	DefaultMasteryState        string   `json:"default_mastery_state"`
	DefaultMasteryScore        int      `json:"default_mastery_score"`
	RequireEvidence            bool     `json:"require_evidence"`
	EvidenceMaxQuotesPerRecord int      `json:"evidence_max_quotes_per_record"`
}

// DefaultOptions returns the options used when a caller supplies none.
// Decoding partial JSON over this value keeps the defaults for absent keys.
func DefaultOptions() Options {
	return Options{
		MaxRecords:                 30,
		TypeWhitelist:              append([]string(nil), Categories...),
		TitleMaxChars:              40,
		OneSentenceMaxChars:        80,
		KeywordsMaxCount:           5,
		DetailsMaxChars:            800,
		DefaultMasteryState:        DefaultMasteryState,
		DefaultMasteryScore:        DefaultMasteryScore,
		RequireEvidence:            true,
		EvidenceMaxQuotesPerRecord: 2,
	}
}

// DecodeOptions parses caller-supplied options over DefaultOptions.
// Empty input yields the defaults.
func DecodeOptions(raw json.RawMessage) (Options, error) {
	opts := DefaultOptions()
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

func (o Options) masteryState() string {
	if o.DefaultMasteryState != "" {
		return o.DefaultMasteryState
	}
	return DefaultMasteryState
}

func (o Options) masteryScore() int {
	if o.DefaultMasteryScore > 0 {
		return o.DefaultMasteryScore
	}
	return DefaultMasteryScore
}

// Chunk is a contiguous slice of a transcript. StartOffset is measured in
// characters (runes) from the start of the full transcript. Index is 1-based.
type Chunk struct {
	Text        string
	StartOffset int
	Index       int
	Total       int
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Evidence is a quote supporting a record. Offsets are transcript-global
// once normalized.
type Evidence struct {
	Quote     string `json:"quote"`
	StartChar *int   `json:"start_char,omitempty"`
	EndChar   *int   `json:"end_char,omitempty"`
}

type NormalizedRecord struct {
	RecordKey  string         `json:"record_key"`
	Seq        int            `json:"seq"`
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"confidence"`
	Evidence   []Evidence     `json:"evidence,omitempty"`
}

// ChunkResult is the normalized output of one chunk. NextSeq is the
// sequence number the following chunk starts from.
type ChunkResult struct {
	Records  []NormalizedRecord
	Warnings []string
	NextSeq  int
}

// SinkRecord is the field-map-only shape record sinks accept.
type SinkRecord struct {
	Fields map[string]any `json:"fields"`
}

// Result is the outcome of one extraction run. Records and Warnings are
// never nil.
type Result struct {
	LessonID   string             `json:"lesson_id"`
	Records    []SinkRecord       `json:"records"`
	Normalized []NormalizedRecord `json:"normalized,omitempty"`
	TypeCounts map[string]int     `json:"type_counts"`
	Warnings   []string           `json:"warnings"`
	Chunks     int                `json:"chunks"`
}
