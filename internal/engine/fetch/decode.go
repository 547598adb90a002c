package fetch

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// minConfidence is the chardet score needed to override a guessed encoding.
const minConfidence = 80

// DetectCharset detects the charset of raw HTML bytes. It returns "utf-8"
// with zero confidence when detection fails.
func DetectCharset(data []byte) (string, int) {
	detector := chardet.NewHtmlDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8", 0
	}
	return strings.ToLower(result.Charset), result.Confidence
}

// decode returns a UTF-8 reader over body. A BOM or a charset in the
// Content-Type header is authoritative; otherwise chardet may override the
// meta/heuristic guess when it is confident.
func decode(body []byte, contentType string) (io.Reader, string) {
	_, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain {
		if detected, confidence := DetectCharset(body); confidence >= minConfidence {
			name = detected
		}
	}

	r, err := charset.NewReaderLabel(name, bytes.NewReader(body))
	if err != nil {
		return bytes.NewReader(body), "utf-8"
	}
	return r, name
}

// parseHTML decodes and parses body into a document.
func parseHTML(body []byte, contentType string) (*goquery.Document, string, error) {
	r, name := decode(body, contentType)
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, name, err
	}
	return doc, name, nil
}
