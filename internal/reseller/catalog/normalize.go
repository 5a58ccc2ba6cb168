package catalog

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/25x8/smm-reseller/internal/reseller/models"
)

const (
	rateScale        = 4
	maxNameLength    = 255
	maxCategory      = 255
	maxTypeLength    = 64
	maxAverageLength = 64
)

// maxRate is the largest value a NUMERIC(14,4) column holds.
var maxRate = decimal.RequireFromString("9999999999.9999")

var errMissingKey = errors.New("entry has no service identifier")

// remoteService is a provider catalog entry after normalisation.
// Fields that could not be parsed are left nil rather than failing the row.
type remoteService struct {
	Key          string
	Name         string
	Category     string
	Type         string
	Rate         *decimal.Decimal
	Min          *int64
	Max          *int64
	Status       string
	Refill       bool
	Cancel       bool
	Dripfeed     bool
	Subscription bool
	AverageTime  string
	Metadata     string
}

func normalizeEntry(raw map[string]any) (remoteService, error) {
	key := serviceKey(raw)
	if key == "" {
		return remoteService{}, errMissingKey
	}

	rs := remoteService{
		Key:          key,
		Name:         cleanString(stringOf(raw["name"]), maxNameLength),
		Category:     cleanString(stringOf(raw["category"]), maxCategory),
		Type:         cleanString(stringOf(raw["type"]), maxTypeLength),
		Rate:         parseRate(raw["rate"]),
		Min:          parseQuantity(raw["min"]),
		Max:          parseQuantity(raw["max"]),
		Status:       normalizeStatus(raw["status"]),
		Refill:       parseFlag(raw["refill"]),
		Cancel:       parseFlag(raw["cancel"]),
		Dripfeed:     parseFlag(raw["dripfeed"]),
		Subscription: parseFlag(raw["subscription"]),
		AverageTime:  cleanString(stringOf(raw["average_time"]), maxAverageLength),
		Metadata:     sanitizeMetadata(raw),
	}
	if rs.Name == "" {
		rs.Name = "Service " + key
	}
	if rs.Type == "" {
		rs.Type = "Default"
	}
	if rs.Min != nil && rs.Max != nil && *rs.Max < *rs.Min {
		rs.Max = nil
	}
	return rs, nil
}

// serviceKey picks the provider identifier from service, service_id or id, in that order.
func serviceKey(raw map[string]any) string {
	for _, field := range []string{"service", "service_id", "id"} {
		if k := cleanString(stringOf(raw[field]), maxTypeLength); k != "" {
			return k
		}
	}
	return ""
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// parseRate rounds to the storage precision and drops values the column cannot hold.
func parseRate(v any) *decimal.Decimal {
	s := strings.TrimSpace(stringOf(v))
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	d = d.Round(rateScale)
	if d.IsNegative() || d.GreaterThan(maxRate) {
		return nil
	}
	return &d
}

// parseQuantity truncates to an integer and drops non-positive values.
func parseQuantity(v any) *int64 {
	s := strings.TrimSpace(stringOf(v))
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	d = d.Truncate(0)
	if !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1<<53)) {
		return nil
	}
	n := d.IntPart()
	return &n
}

func normalizeStatus(v any) string {
	switch strings.ToLower(strings.TrimSpace(stringOf(v))) {
	case "inactive", "disabled", "disable", "off", "false", "0", "paused", "suspended", "hidden", "deleted":
		return models.StatusInactive
	default:
		return models.StatusActive
	}
}

func parseFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on", "enabled":
			return true
		}
	}
	return false
}
