package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

const (
	keywordMinScore      = 0.5
	keywordMinLength     = 3
	maxKeywords          = 10
	maxHashtags          = 10
	sourceDiversityBonus = 0.1
)

var keywordStopWords = map[string]struct{}{
	"image": {}, "photo": {}, "picture": {}, "snapshot": {}, "photograph": {},
	"jpeg": {}, "jpg": {}, "png": {}, "file": {}, "digital": {}, "camera": {},
}

var (
	wordPattern    = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
	captionNoise   = regexp.MustCompile(`#\w+|@\w+|http\S+`)
	hashtagCleaner = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// KeywordCandidate is one detection before ranking.
type KeywordCandidate struct {
	Keyword string
	Score   float64
	Source  string
}

type Keyword struct {
	Keyword string   `json:"keyword"`
	Score   float64  `json:"score"`
	Sources []string `json:"sources"`
}

// ImageAnnotator detects labels, objects, text and web entities in an image.
type ImageAnnotator interface {
	Annotate(ctx context.Context, image []byte) ([]KeywordCandidate, error)
}

type KeywordService interface {
	Extract(ctx context.Context, image []byte, caption string) ([]Keyword, error)
	Hashtags(ctx context.Context, images [][]byte, caption string) ([]string, error)
}

type keywordService struct {
	annotator ImageAnnotator
}

// NewKeywordService returns a service that ranks detections from annotator.
// A nil annotator disables image detection and only caption words are used.
func NewKeywordService(annotator ImageAnnotator) KeywordService {
	return &keywordService{annotator: annotator}
}

func (s *keywordService) Extract(ctx context.Context, image []byte, caption string) ([]Keyword, error) {
	var candidates []KeywordCandidate
	if s.annotator != nil && len(image) > 0 {
		detected, err := s.annotator.Annotate(ctx, image)
		if err != nil {
			slog.Info(err.Error())
			return nil, fmt.Errorf("failed to annotate image: %w", err)
		}
		candidates = append(candidates, detected...)
	}
	candidates = append(candidates, captionKeywords(caption)...)
	return RankKeywords(candidates, maxKeywords), nil
}

func (s *keywordService) Hashtags(ctx context.Context, images [][]byte, caption string) ([]string, error) {
	var candidates []KeywordCandidate
	var firstErr error
	for _, img := range images {
		if s.annotator == nil {
			break
		}
		detected, err := s.annotator.Annotate(ctx, img)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		candidates = append(candidates, detected...)
	}
	candidates = append(candidates, captionKeywords(caption)...)

	if len(candidates) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return GenerateHashtags(RankKeywords(candidates, maxKeywords), maxHashtags), nil
}

// RankKeywords merges candidates by keyword. The score is the average
// detection score plus a bonus per distinct source, capped at 1.
func RankKeywords(candidates []KeywordCandidate, limit int) []Keyword {
	type agg struct {
		sum     float64
		count   int
		sources []string
		order   int
	}
	merged := map[string]*agg{}

	for _, c := range candidates {
		word := strings.ToLower(strings.TrimSpace(c.Keyword))
		if len(word) < keywordMinLength {
			continue
		}
		if _, stop := keywordStopWords[word]; stop {
			continue
		}
		a, ok := merged[word]
		if !ok {
			a = &agg{order: len(merged)}
			merged[word] = a
		}
		a.sum += c.Score
		a.count++
		if !containsString(a.sources, c.Source) {
			a.sources = append(a.sources, c.Source)
		}
	}

	ranked := make([]Keyword, 0, len(merged))
	order := make(map[string]int, len(merged))
	for word, a := range merged {
		score := math.Min(1, a.sum/float64(a.count)+float64(len(a.sources))*sourceDiversityBonus)
		ranked = append(ranked, Keyword{Keyword: word, Score: math.Round(score*1000) / 1000, Sources: a.sources})
		order[word] = a.order
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return order[ranked[i].Keyword] < order[ranked[j].Keyword]
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// GenerateHashtags turns keywords into #CamelCase tags.
func GenerateHashtags(keywords []Keyword, limit int) []string {
	tags := make([]string, 0, limit)
	seen := map[string]struct{}{}
	for _, kw := range keywords {
		if len(tags) == limit {
			break
		}
		var b strings.Builder
		b.WriteByte('#')
		for _, part := range strings.Fields(hashtagCleaner.ReplaceAllString(kw.Keyword, " ")) {
			runes := []rune(strings.ToLower(part))
			b.WriteString(strings.ToUpper(string(runes[0])) + string(runes[1:]))
		}
		tag := b.String()
		if len(tag) == 1 {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func captionKeywords(caption string) []KeywordCandidate {
	return wordFrequency(captionNoise.ReplaceAllString(caption, ""), "caption")
}

// wordFrequency scores the five most frequent words by 0.3 per occurrence.
func wordFrequency(text, source string) []KeywordCandidate {
	counts := map[string]int{}
	var order []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := keywordStopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > 5 {
		order = order[:5]
	}

	out := make([]KeywordCandidate, 0, len(order))
	for _, w := range order {
		out = append(out, KeywordCandidate{Keyword: w, Score: math.Min(1, float64(counts[w])*0.3), Source: source})
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type visionAnnotator struct {
	svc *vision.Service
}

// NewVisionAnnotator builds a Cloud Vision client authenticated by API key.
func NewVisionAnnotator(ctx context.Context, apiKey string) (ImageAnnotator, error) {
	if apiKey == "" {
		return nil, errors.New("vision api key is empty")
	}
	svc, err := vision.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &visionAnnotator{svc: svc}, nil
}

func (v *visionAnnotator) Annotate(ctx context.Context, image []byte) ([]KeywordCandidate, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{
				{Type: "LABEL_DETECTION", MaxResults: 20},
				{Type: "OBJECT_LOCALIZATION", MaxResults: 10},
				{Type: "WEB_DETECTION", MaxResults: 10},
				{Type: "TEXT_DETECTION"},
			},
		}},
	}

	resp, err := v.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return nil, errors.New(r.Error.Message)
	}

	var out []KeywordCandidate
	for _, l := range r.LabelAnnotations {
		if l.Score >= keywordMinScore {
			out = append(out, KeywordCandidate{Keyword: l.Description, Score: l.Score, Source: "label"})
		}
	}
	for _, o := range r.LocalizedObjectAnnotations {
		if o.Score >= keywordMinScore {
			out = append(out, KeywordCandidate{Keyword: o.Name, Score: o.Score, Source: "object"})
		}
	}
	if r.WebDetection != nil {
		for _, e := range r.WebDetection.WebEntities {
			if e.Score >= keywordMinScore && e.Description != "" {
				out = append(out, KeywordCandidate{Keyword: e.Description, Score: math.Min(1, e.Score), Source: "web"})
			}
		}
	}
	if len(r.TextAnnotations) > 0 {
		out = append(out, wordFrequency(r.TextAnnotations[0].Description, "text")...)
	}
	return out, nil
}
