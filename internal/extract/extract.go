// Package extract picks the single most likely unsubscribe link out of a
// message's HTML parts.
//
// Selection policy, kept deliberately simple and deterministic:
//   - only the message's immediate MIME parts are scanned; a multipart child
//     (for example multipart/alternative inside multipart/mixed) is skipped;
//   - anchors are visited in document order, part after part;
//   - an anchor whose text contains "unsubscribe" always replaces the current
//     candidate, so the last such anchor wins;
//   - an anchor whose text contains "preferences" is kept only while no
//     unsubscribe anchor has been seen, and the last one wins.
package extract

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/jal472/gmail-unsubscriber/internal/gmail"
)

// Tag ranks a candidate. Higher values outrank lower ones.
type Tag int

const (
	TagNone Tag = iota
	TagPreference
	TagUnsubscribe
)

func (t Tag) String() string {
	switch t {
	case TagUnsubscribe:
		return "unsubscribe"
	case TagPreference:
		return "preference"
	default:
		return "none"
	}
}

const (
	keywordUnsubscribe = "unsubscribe"
	keywordPreferences = "preferences"
)

// Candidate is the link chosen for one message.
type Candidate struct {
	Href string
	Tag  Tag
}

// PartError records why one MIME part was skipped.
type PartError struct {
	Index    int
	MimeType string
	Err      error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %d (%s): %v", e.Index, e.MimeType, e.Err)
}

func (e *PartError) Unwrap() error { return e.Err }

// Extractor implements the anchor-text heuristic described in the package
// documentation.
type Extractor struct{}

// Extract returns the best candidate in msg and whether one was found. The
// error joins one *PartError per part that could not be decoded or parsed; it
// is informational and may accompany a valid candidate.
func (Extractor) Extract(msg gmail.Message) (Candidate, bool, error) {
	var (
		best Candidate
		errs []error
	)
	for i, part := range msg.TopLevelParts() {
		if len(part.Parts) > 0 || part.Data == "" {
			continue
		}
		text, err := decodePart(part)
		if err != nil {
			errs = append(errs, &PartError{Index: i, MimeType: part.MimeType, Err: err})
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			errs = append(errs, &PartError{Index: i, MimeType: part.MimeType, Err: fmt.Errorf("parse html: %w", err)})
			continue
		}
		best = scanAnchors(doc, best)
	}
	return best, best.Tag != TagNone, errors.Join(errs...)
}

func scanAnchors(doc *goquery.Document, best Candidate) Candidate {
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if text == "" {
			return
		}
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		switch {
		case strings.Contains(text, keywordUnsubscribe):
			best = Candidate{Href: href, Tag: TagUnsubscribe}
		case strings.Contains(text, keywordPreferences) && best.Tag != TagUnsubscribe:
			best = Candidate{Href: href, Tag: TagPreference}
		}
	})
	return best
}

// decodePart turns a base64url body into UTF-8 text, honoring a charset
// parameter on the part's Content-Type header. An unknown charset label
// leaves the bytes as they are.
func decodePart(part gmail.Part) (string, error) {
	raw, err := decodeBase64URL(part.Data)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	if label := partCharset(part); label != "" {
		if enc, _ := charset.Lookup(label); enc != nil {
			if raw, err = enc.NewDecoder().Bytes(raw); err != nil {
				return "", fmt.Errorf("charset %q: %w", label, err)
			}
		}
	}
	if !utf8.Valid(raw) {
		return "", errors.New("body is not text")
	}
	return string(raw), nil
}

func decodeBase64URL(data string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err == nil {
		return b, nil
	}
	// Gmail uses unpadded base64url
	return base64.RawURLEncoding.DecodeString(data)
}

func partCharset(part gmail.Part) string {
	for name, value := range part.Headers {
		if !strings.EqualFold(name, "Content-Type") {
			continue
		}
		_, params, err := mime.ParseMediaType(value)
		if err != nil {
			return ""
		}
		return params["charset"]
	}
	return ""
}
