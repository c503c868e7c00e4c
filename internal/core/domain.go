package core

import (
	"errors"
	"strings"
	"time"
)

// DefaultCategory is applied to records submitted without a category.
const DefaultCategory = "Food"

// DefaultBudgetCap is the spending cap of a fresh store.
const DefaultBudgetCap = 100000.0

type (
	// Item is a single expense record.
	Item struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Description string    `json:"description,omitempty"`
		Category    string    `json:"category"`
		Amount      float64   `json:"amount"`
		Currency    string    `json:"currency,omitempty"`
		Date        time.Time `json:"date,omitempty"`
	}

	NotificationType string

	// Notification is a user-facing message kept in the store.
	Notification struct {
		ID      string           `json:"id"`
		Title   string           `json:"title"`
		Message string           `json:"message"`
		Type    NotificationType `json:"type"`
		Read    bool             `json:"read"`
		Date    time.Time        `json:"date"`
	}
)

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyTitle       = errors.New("empty title")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrCategoryTooLong  = errors.New("category too long (max 100 characters)")
	ErrInvalidNotifType = errors.New("invalid notification type")
)

// Valid reports whether t is one of the known notification kinds.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationWarning, NotificationSuccess, NotificationError:
		return true
	}
	return false
}

// Validate checks a record submitted through an outer surface.
// The store itself accepts records as given.
func (i Item) Validate() error {
	if len(strings.TrimSpace(i.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(i.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if len(i.Description) > 1000 {
		return errors.New("description too long (max 1000 characters)")
	}
	if !(i.Amount > 0) {
		return ErrInvalidAmount
	}
	if len(i.Category) > 100 {
		return ErrCategoryTooLong
	}
	if i.Currency != "" && !isCurrencyCode(i.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
