package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/markusmobius/go-trafilatura"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ErrNoContent means no extractor found article text on the page.
var ErrNoContent = errors.New("no article content")

const defaultMinRunes = 140

// Extractor pulls article text out of a page: readability first, then
// trafilatura, then the bare paragraphs of the first <article>.
type Extractor struct {
	minRunes int
	logger   *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{minRunes: defaultMinRunes, logger: logger}
}

func (e *Extractor) Extract(body []byte, pageURL string, format Format) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	if text, ok := e.withReadability(body, u, format); ok {
		return text, nil
	}
	if text, ok := e.withTrafilatura(body, u, format); ok {
		return text, nil
	}

	text, err := paragraphs(body)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}
	e.logger.Debug("extracted with paragraph fallback", zap.String("url", pageURL), zap.Int("text_length", len(text)))
	return text, nil
}

func (e *Extractor) withReadability(body []byte, u *url.URL, format Format) (string, bool) {
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		e.logger.Debug("readability: extraction failed", zap.String("url", u.String()), zap.Error(err))
		return "", false
	}

	text := tidy(article.TextContent)
	if utf8.RuneCountInString(text) < e.minRunes {
		return "", false
	}
	e.logger.Debug("readability_extraction_result",
		zap.String("url", u.String()),
		zap.String("title", article.Title),
		zap.Int("word_count", len(strings.Fields(text))))

	if format == FormatMarkdown {
		if md, ok := e.markdown(article.Content, u); ok {
			return md, true
		}
	}
	return text, true
}

func (e *Extractor) withTrafilatura(body []byte, u *url.URL, format Format) (string, bool) {
	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{OriginalURL: u})
	if err != nil || result == nil {
		e.logger.Debug("trafilatura: extraction failed", zap.String("url", u.String()), zap.Error(err))
		return "", false
	}

	text := tidy(result.ContentText)
	if utf8.RuneCountInString(text) < e.minRunes {
		return "", false
	}
	e.logger.Debug("trafilatura_extraction_result",
		zap.String("url", u.String()),
		zap.String("title", result.Metadata.Title),
		zap.Int("word_count", len(strings.Fields(text))))

	if format == FormatMarkdown && result.ContentNode != nil {
		var buf bytes.Buffer
		if err := html.Render(&buf, result.ContentNode); err == nil {
			if md, ok := e.markdown(buf.String(), u); ok {
				return md, true
			}
		}
	}
	return text, true
}

func (e *Extractor) markdown(fragment string, u *url.URL) (string, bool) {
	md, err := htmltomarkdown.ConvertString(fragment)
	if err != nil {
		e.logger.Debug("markdown conversion failed", zap.String("url", u.String()), zap.Error(err))
		return "", false
	}
	md = strings.TrimSpace(md)
	return md, md != ""
}

// paragraphs joins the <p> texts of the first <article>, or of the whole
// document when there is none.
func paragraphs(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	root.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.Join(strings.Fields(p.Text()), " "); text != "" {
			lines = append(lines, text)
		}
	})
	return strings.Join(lines, "\n"), nil
}

// tidy trims every line and drops blank ones.
func tidy(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
