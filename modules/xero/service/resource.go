package service

import (
	"strings"
	"unicode"

	"compliance-api/core/errors"

	"github.com/gosimple/slug"
)

// knownResources maps a squashed lower-case name to the ledger's endpoint name.
var knownResources = map[string]string{
	"accounts":           "Accounts",
	"banktransactions":   "BankTransactions",
	"banktransfers":      "BankTransfers",
	"brandingthemes":     "BrandingThemes",
	"contacts":           "Contacts",
	"creditnotes":        "CreditNotes",
	"currencies":         "Currencies",
	"invoices":           "Invoices",
	"items":              "Items",
	"journals":           "Journals",
	"manualjournals":     "ManualJournals",
	"organisation":       "Organisation",
	"overpayments":       "Overpayments",
	"payments":           "Payments",
	"prepayments":        "Prepayments",
	"purchaseorders":     "PurchaseOrders",
	"quotes":             "Quotes",
	"taxrates":           "TaxRates",
	"trackingcategories": "TrackingCategories",
	"users":              "Users",
}

// NormalizeResourceName turns a caller supplied name such as "bank-transactions" or
// "BankTransactions" into the endpoint path segment. Unknown names are PascalCased.
func NormalizeResourceName(name string) (string, error) {
	s := slug.Make(strings.TrimSpace(name))
	if s == "" {
		return "", errors.NewAppError(errors.ErrInvalidInput, "Resource name is required", nil)
	}

	squashed := strings.NewReplacer("-", "", "_", "").Replace(s)
	if known, ok := knownResources[squashed]; ok {
		return known, nil
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 1 && isAlpha(name) {
		// keep the caller's inner casing, e.g. "ExpenseClaims"
		return strings.ToUpper(name[:1]) + name[1:], nil
	}

	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return sb.String(), nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return s != ""
}
