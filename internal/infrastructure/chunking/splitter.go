package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
	DefaultMinSize   = 50
)

// boundaries are tried in order; the first one found in the second half of
// the window wins.
var boundaries = [][]rune{
	[]rune(". "),
	[]rune(".\n"),
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(" "),
}

type Splitter struct {
	ChunkSize int
	Overlap   int
	MinSize   int
}

func NewSplitter(chunkSize, overlap, minSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if minSize < 0 {
		minSize = 0
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
		MinSize:   minSize,
	}
}

// Split cuts a page into overlapping windows. Chunk ids hash the page URL
// and the chunk's ordinal, so identical input always yields identical ids.
func (s *Splitter) Split(page domain.DocPage) []domain.Chunk {
	pieces := s.splitText(page.Content)
	if len(pieces) == 0 {
		return nil
	}

	source := page.URL
	if source == "" {
		source = page.Path
	}
	out := make([]domain.Chunk, 0, len(pieces))
	for i, content := range pieces {
		title := page.Title
		if len(pieces) > 1 {
			title = fmt.Sprintf("%s (part %d)", page.Title, i+1)
		}
		out = append(out, domain.Chunk{
			ID:      ChunkID(source, i),
			Path:    page.Path,
			Title:   title,
			Content: content,
			URL:     page.URL,
		})
	}
	return out
}

func (s *Splitter) splitText(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.ChunkSize {
		return s.keep(nil, string(runes))
	}

	var out []string
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start, end)
		}
		out = s.keep(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func (s *Splitter) keep(out []string, chunk string) []string {
	chunk = strings.TrimSpace(chunk)
	if len([]rune(chunk)) < s.MinSize || chunk == "" {
		return out
	}
	return append(out, chunk)
}

// snapToBoundary moves end back to the nearest boundary, keeping the naive
// cut when the boundary would leave less than half a window.
func snapToBoundary(runes []rune, start, end int) int {
	half := (end - start) / 2
	window := runes[start:end]
	for _, sep := range boundaries {
		pos := lastIndex(window, sep)
		if pos >= 0 && pos >= half {
			return start + pos + len(sep)
		}
	}
	return end
}

func lastIndex(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ChunkID derives the stable chunk id from its source and ordinal.
func ChunkID(source string, index int) string {
	sum := sha256.Sum256([]byte(source + "#" + strconv.Itoa(index)))
	return hex.EncodeToString(sum[:16])
}
