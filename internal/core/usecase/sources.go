package usecase

import (
	"math"
	"sort"
	"strconv"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

// BuildSources keeps the best chunk per (filename, page), sorted by similarity.
func BuildSources(chunks []domain.RetrievedChunk, limit, excerptChars int) []domain.Source {
	type key struct {
		filename string
		page     int
	}

	best := make(map[key]int, len(chunks))
	order := make([]key, 0, len(chunks))
	for i, chunk := range chunks {
		k := key{filename: chunk.Filename, page: chunk.PageNumber}
		prev, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = i
			continue
		}
		if chunk.Similarity > chunks[prev].Similarity {
			best[k] = i
		}
	}

	picked := make([]domain.RetrievedChunk, 0, len(order))
	for _, k := range order {
		picked = append(picked, chunks[best[k]])
	}
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].Similarity > picked[j].Similarity
	})
	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}

	sources := make([]domain.Source, 0, len(picked))
	for _, chunk := range picked {
		sources = append(sources, domain.Source{
			Filename:   chunk.Filename,
			PageNumber: chunk.PageNumber,
			Excerpt:    excerpt(chunk.Content, excerptChars),
			Similarity: math.Round(chunk.Similarity*100) / 100,
		})
	}
	return sources
}

func excerpt(content string, maxChars int) string {
	runes := []rune(content)
	if maxChars > 0 && len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return string(runes) + "..."
}

func sourceLabel(i int) string {
	return "Source " + strconv.Itoa(i+1)
}
