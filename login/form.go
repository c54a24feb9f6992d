package login

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractForm serializes the first form on an HTML page the way a browser
// would submit it: named, enabled controls only; no buttons or file
// inputs; checkboxes and radios only when checked. For a name that occurs
// more than once the last value wins.
//
// A page without a form yields an empty result.
func ExtractForm(body []byte) (url.Values, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing login page: %w", err)
	}

	fields := url.Values{}
	doc.Find("form").First().Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}
		if s.ParentsFiltered("fieldset[disabled]").Length() > 0 {
			return
		}

		var values []string
		switch goquery.NodeName(s) {
		case "input":
			v, ok := inputValue(s)
			if !ok {
				return
			}
			values = []string{v}
		case "select":
			values = selectValues(s)
		case "textarea":
			values = []string{s.Text()}
		}

		// Last value wins, as when the serialized pairs are collected into
		// a plain object.
		if len(values) > 0 {
			fields.Set(name, normalizeNewlines(values[len(values)-1]))
		}
	})
	return fields, nil
}

// normalizeNewlines submits line breaks as CRLF, as browsers do.
func normalizeNewlines(v string) string {
	return strings.ReplaceAll(strings.ReplaceAll(v, "\r\n", "\n"), "\n", "\r\n")
}

// inputValue returns the value an input submits, and false if it would not
// be submitted at all.
func inputValue(s *goquery.Selection) (string, bool) {
	typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "text")))
	switch typ {
	case "submit", "button", "image", "reset", "file":
		return "", false
	case "checkbox", "radio":
		if _, checked := s.Attr("checked"); !checked {
			return "", false
		}
		return s.AttrOr("value", "on"), true
	}
	return s.AttrOr("value", ""), true
}

// selectValues returns the selected options of a select. A single select
// with nothing marked selected submits its first enabled option.
func selectValues(s *goquery.Selection) []string {
	_, multiple := s.Attr("multiple")

	var values []string
	s.Find("option").Each(func(_ int, opt *goquery.Selection) {
		if _, selected := opt.Attr("selected"); selected && !optionDisabled(opt) {
			values = append(values, optionValue(opt))
		}
	})
	if len(values) > 0 || multiple {
		return values
	}

	var first []string
	s.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		if optionDisabled(opt) {
			return true
		}
		first = []string{optionValue(opt)}
		return false
	})
	return first
}

func optionDisabled(opt *goquery.Selection) bool {
	_, disabled := opt.Attr("disabled")
	return disabled
}

func optionValue(opt *goquery.Selection) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.Text())
}

// MergeForm overlays step fields on fields extracted from a page. Step
// fields replace extracted fields of the same name; all other extracted
// fields, such as anti-forgery tokens, pass through unchanged. Neither
// input is modified.
func MergeForm(extracted url.Values, step map[string]string) url.Values {
	merged := make(url.Values, len(extracted)+len(step))
	for k, vs := range extracted {
		merged[k] = append([]string(nil), vs...)
	}
	for k, v := range step {
		merged.Set(k, v)
	}
	return merged
}
