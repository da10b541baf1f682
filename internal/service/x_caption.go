package service

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/maheshrc27/postflow/internal/models"
)

const (
	xMaxChars             = 280
	defaultTruncateSuffix = "..."
)

// TruncateCaption cuts caption to limit-len(suffix) characters and appends
// suffix. Captions already within limit are returned unchanged.
func TruncateCaption(caption, suffix string, limit int) string {
	runes := []rune(caption)
	if len(runes) <= limit {
		return caption
	}
	cut := limit - utf8.RuneCountInString(suffix)
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + suffix
}

// SplitThread splits caption at whitespace into segments of at most limit
// characters. With numbering each segment ends in " i/n" and the suffix counts
// against the limit. Words longer than a segment are split mid-word.
func SplitThread(caption string, limit int, numbering bool) []string {
	words := strings.Fields(caption)
	if len(words) == 0 {
		return nil
	}
	if !numbering {
		return packWords(words, limit)
	}

	total := 1
	for {
		segments := packWords(words, limit-numberingWidth(total))
		if digits(len(segments)) <= digits(total) {
			n := len(segments)
			for i := range segments {
				segments[i] += fmt.Sprintf(" %d/%d", i+1, n)
			}
			return segments
		}
		total = len(segments)
	}
}

// numberingWidth is the widest " i/n" suffix for a thread of n tweets.
func numberingWidth(n int) int {
	return 2 + 2*digits(n)
}

func digits(n int) int {
	return len(strconv.Itoa(n))
}

func packWords(words []string, budget int) []string {
	if budget < 1 {
		budget = 1
	}

	var segments []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			segments = append(segments, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, word := range words {
		runes := []rune(word)
		for len(runes) > budget {
			flush()
			segments = append(segments, string(runes[:budget]))
			runes = runes[budget:]
		}
		if len(runes) == 0 {
			continue
		}

		need := len(runes)
		if currentLen > 0 {
			need++
		}
		if currentLen+need > budget {
			flush()
			need = len(runes)
		}
		if currentLen > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(string(runes))
		currentLen += need
	}
	flush()

	return segments
}

// validateXCaption enforces the 280 character limit unless exactly one
// long-caption strategy is selected.
func validateXCaption(caption string, target models.PlatformTarget) error {
	var v invalidFields
	if target.Truncate && target.AutoThread {
		v.add("truncate and auto_thread are mutually exclusive", "x.truncate", "x.auto_thread")
	}
	if target.Truncate && utf8.RuneCountInString(truncateSuffix(target)) >= xMaxChars {
		v.add("truncate_suffix is too long", "x.truncate_suffix")
	}
	if utf8.RuneCountInString(caption) > xMaxChars && !target.Truncate && !target.AutoThread {
		v.add(fmt.Sprintf("caption exceeds %d characters, enable truncate or auto_thread", xMaxChars), "x.caption")
	}
	return v.err()
}

// truncateSuffix is "..." unless the target sets one; an explicit empty
// suffix cuts the caption without a marker.
func truncateSuffix(target models.PlatformTarget) string {
	if target.TruncateSuffix == nil {
		return defaultTruncateSuffix
	}
	return *target.TruncateSuffix
}

// xSegments applies the selected strategy and returns the tweet texts in order.
func xSegments(caption string, target models.PlatformTarget) ([]string, error) {
	if err := validateXCaption(caption, target); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(caption) <= xMaxChars {
		return []string{caption}, nil
	}
	if target.Truncate {
		return []string{TruncateCaption(caption, truncateSuffix(target), xMaxChars)}, nil
	}
	return SplitThread(caption, xMaxChars, target.ThreadNumbering), nil
}
