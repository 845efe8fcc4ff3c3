package services

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/models"
)

// MassUnit is the POS ingredient unit for products sold by weight
const MassUnit = "kg"

var (
	minorUnitsPerMajor = decimal.NewFromInt(100)
	posBaseFactor      = decimal.NewFromInt(1000) // kg → g, l → ml
)

// KeywordRule matches one lowercase word token of a product name
type KeywordRule struct {
	Term   string
	Prefix bool // match tokens starting with Term, for inflected forms
}

func (r KeywordRule) matches(token string) bool {
	if r.Prefix {
		return strings.HasPrefix(token, r.Term)
	}
	return token == r.Term
}

// BeverageKeywords marks products that the POS weighs but the store sells by
// volume. A product named with any of these is never classified as weight-based.
var BeverageKeywords = []KeywordRule{
	{Term: "пиво"}, {Term: "пива"}, {Term: "пивний", Prefix: true},
	{Term: "beer"}, {Term: "lager"}, {Term: "ale"}, {Term: "ipa"}, {Term: "stout"},
	{Term: "лагер"}, {Term: "ель"}, {Term: "стаут"},
	{Term: "вино"}, {Term: "wine"},
	{Term: "сидр", Prefix: true}, {Term: "cider"},
	{Term: "квас"}, {Term: "kvass"},
	{Term: "медовух", Prefix: true}, {Term: "mead"},
	{Term: "ігрист", Prefix: true}, {Term: "шампанськ", Prefix: true},
}

// IsBeverage reports whether the product name matches the beverage keyword table
func IsBeverage(name string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, token := range tokens {
		for _, rule := range BeverageKeywords {
			if rule.matches(token) {
				return true
			}
		}
	}
	return false
}

// IsMassUnit reports whether a POS ingredient unit denotes mass
func IsMassUnit(unit string) bool {
	u := strings.ToLower(strings.TrimSpace(unit))
	return u == MassUnit || u == "кг"
}

// Classify decides how a product is measured. Beverages with a mass unit are
// volume-based, never weight-based.
func Classify(name, ingredientUnit string, hasCustomQuantity bool) models.Classification {
	beverage := IsBeverage(name)
	mass := IsMassUnit(ingredientUnit)

	switch {
	case beverage && mass:
		return models.ClassificationVolume
	case !beverage && (mass || hasCustomQuantity):
		return models.ClassificationWeight
	default:
		return models.ClassificationPiece
	}
}

// UnitPolicy holds the unit handling rules of one classification
type UnitPolicy struct {
	// DefaultQuantity is assigned to newly created products; nil means none
	DefaultQuantity *models.CustomQuantity
	// StorageScale multiplies the POS price before storage
	StorageScale decimal.Decimal
}

var unitPolicies = map[models.Classification]UnitPolicy{
	models.ClassificationPiece: {
		StorageScale: decimal.NewFromInt(1),
	},
	models.ClassificationWeight: {
		DefaultQuantity: &models.CustomQuantity{
			QuantityPerUnit: decimal.RequireFromString("0.05"),
			Unit:            "g",
			Step:            decimal.RequireFromString("0.05"),
		},
		StorageScale: decimal.NewFromInt(1),
	},
	models.ClassificationVolume: {
		DefaultQuantity: &models.CustomQuantity{
			QuantityPerUnit: decimal.RequireFromString("0.5"),
			Unit:            "l",
			Step:            decimal.RequireFromString("0.5"),
		},
		StorageScale: decimal.NewFromInt(1),
	},
}

// UnitPolicyFor returns the policy of a classification. The returned default
// quantity is a copy the caller may keep.
func UnitPolicyFor(c models.Classification) UnitPolicy {
	policy, ok := unitPolicies[c]
	if !ok {
		policy = unitPolicies[models.ClassificationPiece]
	}
	if policy.DefaultQuantity != nil {
		q := *policy.DefaultQuantity
		policy.DefaultQuantity = &q
	}
	return policy
}

// ParsePrice converts a POS price payload in minor units into major units.
// The payload may be a tier map, a string or a number; the lowest numeric tier
// wins. Anything malformed yields zero.
func ParsePrice(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero
	}

	if raw[0] == '{' {
		var tiers map[string]json.RawMessage
		if err := json.Unmarshal(raw, &tiers); err != nil || len(tiers) == 0 {
			return decimal.Zero
		}
		return parseMinorUnits(tiers[firstTier(tiers)])
	}
	return parseMinorUnits(raw)
}

func firstTier(tiers map[string]json.RawMessage) string {
	keys := make([]string, 0, len(tiers))
	for k := range tiers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys[0]
}

func parseMinorUnits(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return decimal.Zero
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero
	}

	minor, err := decimal.NewFromString(text)
	if err != nil || minor.IsNegative() {
		return decimal.Zero
	}
	return minor.Div(minorUnitsPerMajor).Round(2)
}

// NormalizedProduct is a POS product converted to canonical store units
type NormalizedProduct struct {
	ExternalID         string
	Name               string
	CategoryExternalID string
	Price              decimal.Decimal
	IsActive           bool
	PhotoPath          string
	IngredientID       string
	IngredientUnit     string
	Classification     models.Classification
	DefaultQuantity    *models.CustomQuantity
	Attributes         models.JSONB
}

// NormalizeProduct converts a raw POS product. hasCustomQuantity is whether
// the matching local product already carries a custom quantity.
func NormalizeProduct(p clients.POSProduct, hasCustomQuantity bool) NormalizedProduct {
	classification := Classify(p.Name, p.IngredientUnit, hasCustomQuantity)
	policy := UnitPolicyFor(classification)

	attributes := models.JSONB{
		"ingredient_unit": p.IngredientUnit,
	}
	for k, v := range p.Flags {
		attributes[k] = v
	}

	return NormalizedProduct{
		ExternalID:         p.ID,
		Name:               p.Name,
		CategoryExternalID: NormalizeExternalRef(p.CategoryID),
		Price:              ParsePrice(p.Price).Mul(policy.StorageScale).Round(2),
		IsActive:           !p.Hidden,
		PhotoPath:          strings.TrimSpace(p.PhotoPath),
		IngredientID:       NormalizeExternalRef(p.IngredientID),
		IngredientUnit:     p.IngredientUnit,
		Classification:     classification,
		DefaultQuantity:    policy.DefaultQuantity,
		Attributes:         attributes,
	}
}

// NormalizeExternalRef maps the POS "no reference" encodings to ""
func NormalizeExternalRef(id string) string {
	id = strings.TrimSpace(id)
	if id == "0" {
		return ""
	}
	return id
}

// DisplayPrice is the price of one orderable unit: the stored base-unit price
// scaled by the custom quantity, if any.
func DisplayPrice(price decimal.Decimal, quantity *models.CustomQuantity) decimal.Decimal {
	if quantity == nil || quantity.QuantityPerUnit.IsZero() {
		return price
	}
	return price.Mul(quantity.QuantityPerUnit).Round(2)
}

// POSQuantity converts an ordered unit count into the POS reporting unit
// (grams or millilitres) when a custom quantity applies.
func POSQuantity(count int, quantity *models.CustomQuantity) decimal.Decimal {
	units := decimal.NewFromInt(int64(count))
	if quantity == nil || quantity.QuantityPerUnit.IsZero() {
		return units
	}
	return units.Mul(quantity.QuantityPerUnit).Mul(posBaseFactor).Round(3)
}
