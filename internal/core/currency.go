package core

import "sort"

// Currency describes one entry of the static conversion table.
// Rate is the value of one base unit (NGN) in this currency.
type Currency struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Symbol string  `json:"symbol"`
	Rate   float64 `json:"rate"`
}

// RateTable resolves a currency code to its rate against the base unit.
type RateTable interface {
	Rate(code string) (float64, bool)
}

// StaticRates is a RateTable backed by a fixed map.
type StaticRates map[string]Currency

func (r StaticRates) Rate(code string) (float64, bool) {
	c, ok := r[code]
	if !ok || c.Rate <= 0 {
		return 0, false
	}
	return c.Rate, true
}

// Currencies lists the table sorted by code.
func (r StaticRates) Currencies() []Currency {
	out := make([]Currency, 0, len(r))
	for _, c := range r {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// DefaultRates is the NGN-based table shipped with the application.
var DefaultRates = StaticRates{
	"NGN": {Code: "NGN", Name: "Nigerian Naira", Symbol: "₦", Rate: 1},
	"USD": {Code: "USD", Name: "US Dollar", Symbol: "$", Rate: 0.00065},
	"EUR": {Code: "EUR", Name: "Euro", Symbol: "€", Rate: 0.0006},
	"GBP": {Code: "GBP", Name: "British Pound", Symbol: "£", Rate: 0.00051},
	"GHS": {Code: "GHS", Name: "Ghanaian Cedi", Symbol: "₵", Rate: 0.0083},
	"KES": {Code: "KES", Name: "Kenyan Shilling", Symbol: "KSh", Rate: 0.084},
	"ZAR": {Code: "ZAR", Name: "South African Rand", Symbol: "R", Rate: 0.012},
}

// Convert moves amount from one currency to another through the base unit.
// Unknown codes leave the amount unchanged.
func Convert(rates RateTable, amount float64, from, to string) float64 {
	if from == to || rates == nil {
		return amount
	}
	fromRate, ok := rates.Rate(from)
	if !ok {
		return amount
	}
	toRate, ok := rates.Rate(to)
	if !ok {
		return amount
	}
	return amount / fromRate * toRate
}
