// Package analyzer scores fetched pages on SEO and GEO signals.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/analysis"
)

// Title lengths inside this window score full marks; search snippets
// truncate around 60 characters.
const (
	titleMinLength = 30
	titleMaxLength = 60
)

// HeuristicAnalyzer implements analysis.Analyzer with deterministic
// weighted-sum scoring over signals extracted from the document.
type HeuristicAnalyzer struct {
	logger *zap.Logger
}

// New constructs a HeuristicAnalyzer.
func New(logger *zap.Logger) *HeuristicAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicAnalyzer{logger: logger}
}

// Analyze parses the fetched document and produces a scored report.
// Unreachable pages (HTTP >= 400) score zero with the status recorded.
func (a *HeuristicAnalyzer) Analyze(
	_ context.Context,
	jobID string,
	resp analysis.FetchResponse,
) (analysis.Report, error) {
	report := analysis.Report{
		JobID:      jobID,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		DurationMs: resp.Duration.Milliseconds(),
	}

	if resp.StatusCode >= 400 {
		report.ErrorText = fmt.Sprintf("page returned HTTP %d", resp.StatusCode)
		return report, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return analysis.Report{}, fmt.Errorf("parse document: %w", err)
	}

	report.SEO = a.extractSEO(doc, resp.URL)
	report.GEO = a.extractGEO(doc)
	report.Overall = (report.SEO.Score + report.GEO.Score) / 2

	a.logger.Debug("page scored",
		zap.String("url", resp.URL),
		zap.Int("seo", report.SEO.Score),
		zap.Int("geo", report.GEO.Score),
	)
	return report, nil
}

func (a *HeuristicAnalyzer) extractSEO(doc *goquery.Document, pageURL string) analysis.SEOSignals {
	signals := analysis.SEOSignals{
		Headings: map[string]int{},
	}

	signals.Title = strings.TrimSpace(doc.Find("head title").First().Text())
	signals.TitleLength = len(signals.Title)

	if desc, ok := doc.Find(`head meta[name="description"]`).Attr("content"); ok {
		signals.HasMetaDescription = strings.TrimSpace(desc) != ""
	}

	for _, level := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		if n := doc.Find(level).Length(); n > 0 {
			signals.Headings[level] = n
		}
	}

	pageHost := hostOf(pageURL)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		linkHost := hostOf(href)
		if linkHost == "" || linkHost == pageHost {
			signals.InternalLinks++
		} else {
			signals.ExternalLinks++
		}
	})

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if alt, ok := sel.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			signals.ImagesMissingAlt++
		}
	})

	signals.HasCanonical = doc.Find(`head link[rel="canonical"]`).Length() > 0

	signals.Score = scoreSEO(signals)
	return signals
}

func (a *HeuristicAnalyzer) extractGEO(doc *goquery.Document) analysis.GEOSignals {
	signals := analysis.GEOSignals{}

	text := strings.TrimSpace(doc.Find("body").Text())
	words := strings.Fields(text)
	signals.WordCount = len(words)

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		signals.HasStructuredData = true
		if strings.Contains(sel.Text(), "FAQPage") {
			signals.FAQBlocks++
		}
	})
	// details/summary blocks read as answer-shaped content too.
	signals.FAQBlocks += doc.Find("details summary").Length()

	sentences := countSentences(text)
	if sentences > 0 {
		signals.AvgSentenceLength = len(words) / sentences
	}

	signals.Score = scoreGEO(signals)
	return signals
}

func scoreSEO(s analysis.SEOSignals) int {
	score := 0
	if s.Title != "" {
		score += 20
		if s.TitleLength >= titleMinLength && s.TitleLength <= titleMaxLength {
			score += 10
		}
	}
	if s.HasMetaDescription {
		score += 15
	}
	switch s.Headings["h1"] {
	case 1:
		score += 15
	case 0:
	default:
		score += 5 // multiple h1s dilute the topic signal
	}
	if s.Headings["h2"] > 0 {
		score += 10
	}
	if s.InternalLinks > 0 {
		score += 10
	}
	if s.ExternalLinks > 0 {
		score += 5
	}
	if s.ImagesMissingAlt == 0 {
		score += 5
	}
	if s.HasCanonical {
		score += 10
	}
	return clampScore(score)
}

func scoreGEO(s analysis.GEOSignals) int {
	score := 0
	switch {
	case s.WordCount >= 300:
		score += 30
	case s.WordCount >= 100:
		score += 15
	}
	if s.HasStructuredData {
		score += 30
	}
	if s.FAQBlocks > 0 {
		score += 20
	}
	if s.AvgSentenceLength > 0 && s.AvgSentenceLength <= 25 {
		score += 20
	}
	return clampScore(score)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	return count
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
