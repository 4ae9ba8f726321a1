// Package summarize turns fetched article content into short summaries.
//
// Summaries come from the configured LLM provider when one is available.
// Generation never fails outward: on provider errors or missing
// credentials the summarizer falls back to truncating the content, so a
// search task can always complete with at least readable previews.
package summarize

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/TobiSchelling/newswave/internal/config"
	"github.com/TobiSchelling/newswave/internal/llm"
)

const (
	// Reader services prepend metadata before this marker.
	contentMarker = "Markdown Content:"

	promptContentLimit = 2000
	cleanContentLimit  = 1500
	rawFallbackLimit   = 1000
)

// Lines containing any of these are navigation chrome or boilerplate,
// not article text.
var skipPatterns = []string{
	"首頁", "新聞", "股市", "運動", "TV", "汽機車", "購物中心", "拍賣",
	"登入", "搜尋", "Yahoo", "App", "熱搜", "立即下載", "廣告", "訂閱",
	"隱私權", "Privacy", "Cookie", "Terms", "===", "---",
	"*", "[", "]", "Image", "href", "http", "www.",
}

var asciiNavRe = regexp.MustCompile(`^[a-zA-Z\s\d\.,;&%\(\)\[\]]+$`)

// Summarizer generates article summaries via an LLM provider.
type Summarizer struct {
	provider  llm.Provider
	maxLength int
	maxTokens int
}

// New creates a Summarizer. The provider may be nil, in which case every
// summary is a truncation of the content.
func New(provider llm.Provider, cfg config.Summarization) *Summarizer {
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = 200
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Summarizer{provider: provider, maxLength: maxLength, maxTokens: maxTokens}
}

// Summarize produces a summary for one article.
func (s *Summarizer) Summarize(ctx context.Context, title, content string) string {
	if s.provider == nil {
		return truncate(content, s.maxLength)
	}

	prompt := s.buildPrompt(title, cleanContent(content))
	out, err := s.provider.Generate(ctx, prompt, s.maxTokens)
	if err != nil {
		log.Printf("LLM summary failed, falling back to truncation: %v", err)
		return truncate(content, s.maxLength)
	}

	summary := llm.StripFences(out)
	if summary == "" {
		return truncate(content, s.maxLength)
	}
	return summary
}

func (s *Summarizer) buildPrompt(title, content string) string {
	return fmt.Sprintf(`請將以下新聞內容摘要成 %d 字以內的中文摘要。
摘要應該：
1. 保留最重要的資訊
2. 使用簡潔易懂的語言
3. 保持客觀中立的語氣
4. 忽略網站導航、廣告和技術性元數據
5. 只回傳摘要內容，不要其他解釋

新聞標題：%s
新聞內容：%s

請提供摘要：`, s.maxLength, title, truncateRunes(content, promptContentLimit))
}

// cleanContent extracts the article body from a reader-service response.
// Content fetched through r.jina.ai arrives as metadata lines followed
// by a "Markdown Content:" section mixing article text with site
// navigation. Without the marker the content is used as-is, capped.
func cleanContent(content string) string {
	lines := strings.Split(content, "\n")

	start := -1
	for i, line := range lines {
		if strings.Contains(line, contentMarker) {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return truncateRunes(content, rawFallbackLimit)
	}

	var kept []string
	total := 0
	for _, raw := range lines[start:] {
		line := strings.TrimSpace(raw)
		if line == "" || skipLine(line) {
			continue
		}
		kept = append(kept, line)
		total += utf8.RuneCountInString(line) + 1
		if total > cleanContentLimit {
			break
		}
	}

	if len(kept) == 0 {
		return truncateRunes(content, rawFallbackLimit)
	}
	return strings.Join(kept, " ")
}

func skipLine(line string) bool {
	for _, p := range skipPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	if utf8.RuneCountInString(line) < 15 {
		return true
	}
	if strings.HasPrefix(line, "*") || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "!") {
		return true
	}
	// English-only lines in a Chinese article are navigation.
	if utf8.RuneCountInString(line) > 20 && asciiNavRe.MatchString(line) {
		return true
	}
	return false
}

func truncate(content string, max int) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= max {
		return content
	}
	return truncateRunes(content, max) + "..."
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
