package extractor

// DefaultMaxChars keeps a chunk under the analyzer's input ceiling with room
// for the prompt scaffolding.
const DefaultMaxChars = 28000

// Split partitions a transcript into consecutive windows of maxChars
// characters. The last window may be shorter. An empty transcript yields a
// single empty chunk so later stages always have something to process.
// Offsets count runes, not bytes; the transcript is expected to be valid UTF-8.
func Split(transcript string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	runes := []rune(transcript)
	if len(runes) <= maxChars {
		return []Chunk{{Text: transcript, StartOffset: 0, Index: 1, Total: 1}}
	}

	total := (len(runes) + maxChars - 1) / maxChars
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChars
		end := min(start+maxChars, len(runes))
		chunks = append(chunks, Chunk{
			Text:        string(runes[start:end]),
			StartOffset: start,
			Index:       i + 1,
			Total:       total,
		})
	}
	return chunks
}
