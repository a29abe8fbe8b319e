package direct

import (
	"bytes"
	"html"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// CodeAuthRequired marks a login page served in place of an API response.
const CodeAuthRequired = "AUTH_REQUIRED"

const excerptLimit = 512

var textPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

type htmlPage struct {
	login   bool
	title   string
	excerpt string
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// inspectHTML reports whether the page is a sign-in form and extracts a short
// plain-text excerpt for error messages.
func inspectHTML(body []byte) htmlPage {
	var page htmlPage

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		page.title = strings.TrimSpace(doc.Find("title").First().Text())
		doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
			if form.Find(`input[type="password"]`).Length() > 0 {
				page.login = true
				return false
			}
			action, _ := form.Attr("action")
			action = strings.ToLower(action)
			if strings.Contains(action, "login") || strings.Contains(action, "signin") {
				page.login = true
				return false
			}
			return true
		})
	}

	text := html.UnescapeString(string(textPolicy.SanitizeBytes(body)))
	page.excerpt = truncate(strings.Join(strings.Fields(text), " "), excerptLimit)
	return page
}

// toUTF8 decodes body using the declared charset, or a detected one when the
// header names none and the bytes are not valid UTF-8.
func toUTF8(body []byte, contentType string) []byte {
	label := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		label = params["charset"]
	}
	if label == "" {
		if utf8.Valid(body) {
			return body
		}
		label = detectCharset(body)
	}
	if strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return body
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return body
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return out
}

func detectCharset(body []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(body)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
