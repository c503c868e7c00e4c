package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// CategoryAmount is the spending aggregated under one category name.
type CategoryAmount struct {
	Name    string  `json:"name"`
	Total   float64 `json:"total"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// Summary is a compact overview of the records against the budget cap.
type Summary struct {
	TotalItems     int              `json:"totalItems"`
	TotalSpent     float64          `json:"totalSpent"`
	BudgetCap      float64          `json:"budgetCap"`
	Remaining      float64          `json:"remainingBudget"`
	PercentageUsed float64          `json:"percentageUsed"`
	ByCategory     []CategoryAmount `json:"byCategory"`
}

type SuggestionKind string

const (
	SuggestReduce   SuggestionKind = "reduce"
	SuggestSave     SuggestionKind = "save"
	SuggestBalanced SuggestionKind = "balanced"
)

// CategorySuggestion proposes a lower spend for one category.
type CategorySuggestion struct {
	Category   string  `json:"category"`
	Amount     float64 `json:"amount"`
	Suggestion float64 `json:"suggestion"`
}

type Suggestion struct {
	Kind            SuggestionKind       `json:"type"`
	Message         string               `json:"message"`
	SuggestedBudget float64              `json:"suggestedBudget,omitempty"`
	Savings         float64              `json:"savingsAmount,omitempty"`
	Utilization     float64              `json:"currentUtilization,omitempty"`
	Categories      []CategorySuggestion `json:"categories,omitempty"`
}

// Summarize aggregates items by category, largest total first.
// Amounts are taken as stored; convert beforehand for a display currency.
func Summarize(items []Item, budgetCap float64) Summary {
	byName := make(map[string]*CategoryAmount)
	var total float64
	for _, it := range items {
		total += it.Amount
		ca, ok := byName[it.Category]
		if !ok {
			ca = &CategoryAmount{Name: it.Category}
			byName[it.Category] = ca
		}
		ca.Total += it.Amount
		ca.Count++
	}

	cats := make([]CategoryAmount, 0, len(byName))
	for _, ca := range byName {
		ca.Average = ca.Total / float64(ca.Count)
		cats = append(cats, *ca)
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Total != cats[j].Total {
			return cats[i].Total > cats[j].Total
		}
		return cats[i].Name < cats[j].Name
	})

	s := Summary{
		TotalItems: len(items),
		TotalSpent: total,
		BudgetCap:  budgetCap,
		Remaining:  budgetCap - total,
		ByCategory: cats,
	}
	if budgetCap > 0 {
		s.PercentageUsed = total * 100 / budgetCap
	}
	return s
}

// Suggest proposes a budget adjustment based on how much of the cap is used.
func Suggest(items []Item, budgetCap float64) Suggestion {
	sum := Summarize(items, budgetCap)
	spent := sum.TotalSpent

	switch {
	case spent > budgetCap*0.9:
		top := sum.ByCategory
		if len(top) > 2 {
			top = top[:2]
		}
		names := make([]string, 0, len(top))
		cats := make([]CategorySuggestion, 0, len(top))
		for _, c := range top {
			names = append(names, c.Name)
			cats = append(cats, CategorySuggestion{
				Category:   c.Name,
				Amount:     c.Total,
				Suggestion: math.Ceil(c.Total*0.8/100) * 100,
			})
		}
		msg := "You're close to exceeding your budget."
		if len(names) > 0 {
			msg += " Consider reducing spending in " + strings.Join(names, " and ") + "."
		}
		return Suggestion{
			Kind:            SuggestReduce,
			Message:         msg,
			SuggestedBudget: math.Ceil(spent*1.1/1000) * 1000,
			Categories:      cats,
		}
	case spent < budgetCap*0.7:
		savings := budgetCap - spent
		return Suggestion{
			Kind:    SuggestSave,
			Message: fmt.Sprintf("You're well under budget. Consider saving %.2f or reallocating to other categories.", savings),
			Savings: savings,
		}
	default:
		return Suggestion{
			Kind:        SuggestBalanced,
			Message:     "Your budget is well balanced.",
			Utilization: sum.PercentageUsed,
		}
	}
}

// Predict projects each category's spending over the given number of days,
// assuming the recorded totals cover a 30 day window.
func Predict(items []Item, days int) map[string]float64 {
	if days <= 0 {
		days = 30
	}
	out := make(map[string]float64)
	for _, it := range items {
		out[it.Category] += it.Amount
	}
	for k, v := range out {
		out[k] = v * float64(days) / 30
	}
	return out
}
