package chunker

import (
	"strings"

	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
)

// PageSeparator joins page texts before a document is chunked.
const PageSeparator = "\n"

// Split cuts text into fixed-size character windows. Chunk i starts at
// i*(size-overlap) and spans size characters, clipped at the end of text,
// so consecutive chunks share exactly overlap characters.
func Split(text string, size, overlap int) ([]models.Chunk, error) {
	if size <= 0 {
		return nil, ragerr.Configf("chunker.Split", "chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, ragerr.Configf("chunker.Split", "chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := size - overlap
	chunks := make([]models.Chunk, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, models.Chunk{
			Index:   len(chunks),
			Content: string(runes[start:end]),
			Start:   start,
			End:     end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// SplitDocument joins a document's pages and splits the result, tagging
// each chunk with its document id and the 1-based page where it starts.
func SplitDocument(doc models.Document, size, overlap int) ([]models.Chunk, error) {
	var text strings.Builder
	pageStarts := make([]int, 0, len(doc.Pages))
	offset := 0
	for i, page := range doc.Pages {
		if i > 0 {
			text.WriteString(PageSeparator)
			offset += len([]rune(PageSeparator))
		}
		pageStarts = append(pageStarts, offset)
		text.WriteString(page)
		offset += len([]rune(page))
	}

	chunks, err := Split(text.String(), size, overlap)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		chunks[i].PageNumber = pageOf(pageStarts, chunks[i].Start)
	}
	return chunks, nil
}

func pageOf(pageStarts []int, offset int) int {
	page := 1
	for i, start := range pageStarts {
		if offset >= start {
			page = i + 1
		}
	}
	return page
}

// Reassemble rebuilds the source text from ordered chunks of one document
// by dropping the part of each chunk already covered by its predecessor.
func Reassemble(chunks []models.Chunk) string {
	var content strings.Builder
	covered := 0
	for _, chunk := range chunks {
		runes := []rune(chunk.Content)
		skip := covered - chunk.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(runes) {
			content.WriteString(string(runes[skip:]))
		}
		covered = max(covered, chunk.End)
	}
	return content.String()
}
