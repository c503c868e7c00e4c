// Package http provides the origin server: the HTML shell, the JSON API
// over the budget store and the health and metrics endpoints.
//
// This file implements utilities for parsing and validating HTTP request data.
// Handlers accept both JSON bodies and form-encoded submissions from the
// index page, so the parsing is shared here.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"budget/internal/core"
)

// maxBodyBytes bounds every request body read by the API.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty request body")

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}
	if trimmed[0] == '[' {
		p.err = errors.New("expected a JSON object")
		return p.err
	}

	p.formData, p.err = url.ParseQuery(trimmed)
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// Has reports whether key was present in the body.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		_, ok := p.jsonData[key]
		return ok
	}
	if p.formData != nil {
		return p.formData.Has(key)
	}
	return false
}

// GetRaw returns the raw body bytes.
func (p *RequestBodyParser) GetRaw() []byte {
	return p.body
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// IsForm returns true if the body was form-encoded.
func (p *RequestBodyParser) IsForm() bool {
	return strings.HasPrefix(p.contentType, "application/x-www-form-urlencoded")
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseItem builds a record from a create or update body. The amount goes
// through core.ParseAmount so JSON numbers and user-typed strings are
// normalized the same way.
func ParseItem(p *RequestBodyParser) (core.Item, error) {
	if err := p.Parse(); err != nil {
		return core.Item{}, fmt.Errorf("invalid request body: %w", err)
	}

	amount, err := core.ParseAmount(p.Get("amount"))
	if err != nil {
		return core.Item{}, err
	}

	item := core.Item{
		Title:       p.Get("title"),
		Description: p.Get("description"),
		Category:    p.Get("category"),
		Amount:      amount,
		Currency:    strings.ToUpper(p.Get("currency")),
	}
	if v := p.Get("date"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return core.Item{}, fmt.Errorf("invalid date %q", v)
		}
		item.Date = d
	}
	if err := item.Validate(); err != nil {
		return core.Item{}, err
	}
	return item, nil
}

// ParseBudgetCap reads the "amount" field of a cap update. Zero is allowed.
func ParseBudgetCap(p *RequestBodyParser) (float64, error) {
	if err := p.Parse(); err != nil {
		return 0, fmt.Errorf("invalid request body: %w", err)
	}
	raw := p.Get("amount")
	if raw == "" {
		return 0, errEmptyBody
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, core.ErrInvalidAmount
	}
	return v, nil
}

// ParsePreferencesPatch decodes a partial preferences update.
func ParsePreferencesPatch(p *RequestBodyParser) (core.PreferencesPatch, error) {
	var patch core.PreferencesPatch
	if len(strings.TrimSpace(string(p.GetRaw()))) == 0 {
		return patch, errEmptyBody
	}
	if err := json.Unmarshal(p.GetRaw(), &patch); err != nil {
		return patch, fmt.Errorf("invalid request body: %w", err)
	}
	if patch.Currency != nil {
		code := strings.ToUpper(*patch.Currency)
		if _, ok := core.DefaultRates.Rate(code); !ok {
			return patch, core.ErrInvalidCurrency
		}
		patch.Currency = &code
	}
	return patch, nil
}

// ParseCurrencyParam returns the currency query parameter, or fallback when
// it is absent. Unknown codes are rejected.
func ParseCurrencyParam(query url.Values, fallback string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(query.Get("currency")))
	if code == "" {
		return fallback, nil
	}
	if _, ok := core.DefaultRates.Rate(code); !ok {
		return "", core.ErrInvalidCurrency
	}
	return code, nil
}

// parseDate accepts YYYY-MM-DD from date inputs and RFC 3339 from API clients.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
