package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const DefaultPath = "~/.scribe/history.json"

type Entry struct {
	Title       string    `json:"title,omitempty"`
	Records     int       `json:"records"`
	ProcessedAt time.Time `json:"processed_at"`
}

// History remembers which lessons were already extracted and pushed, so
// repeated feed runs only pick up new items.
type History struct {
	StartedAt       time.Time         `json:"started_at"`
	LastProcessedAt time.Time         `json:"last_processed_at"`
	Processed       map[string]Entry  `json:"processed"`
	LastItem        map[string]string `json:"last_item"`
	Errors          []string          `json:"errors"`

	path string
	now  func() time.Time
}

// Load reads the history file at path, or starts an empty one when the
// file does not exist yet. An empty path means DefaultPath.
func Load(path string) (*History, error) {
	if path == "" {
		path = DefaultPath
	}
	p := expandHome(path)

	h := &History{path: p, now: time.Now}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			h.StartedAt = h.now().UTC()
			h.init()
			return h, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	h.init()
	return h, nil
}

func (h *History) init() {
	if h.Processed == nil {
		h.Processed = map[string]Entry{}
	}
	if h.LastItem == nil {
		h.LastItem = map[string]string{}
	}
	if h.now == nil {
		h.now = time.Now
	}
}

func (h *History) Path() string {
	return h.path
}

// Save writes the file atomically through a temp file in the same directory.
func (h *History) Save() error {
	h.init()
	h.LastProcessedAt = h.now().UTC()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

func (h *History) IsProcessed(lessonID string) bool {
	_, ok := h.Processed[lessonID]
	return ok
}

func (h *History) MarkProcessed(lessonID, title string, records int) {
	h.init()
	h.Processed[lessonID] = Entry{Title: title, Records: records, ProcessedAt: h.now().UTC()}
}

// SetLastItem records the newest item seen on a feed.
func (h *History) SetLastItem(feedURL, lessonID string) {
	h.init()
	h.LastItem[feedURL] = lessonID
}

func (h *History) AddError(msg string) {
	h.Errors = append(h.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
