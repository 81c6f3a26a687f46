package query

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// ParseFilter reads a Filter from query parameters: q, animalId, deviceId,
// weightMin, weightMax, dateFrom and dateTo. Malformed values are
// validation errors.
func ParseFilter(values url.Values) (Filter, error) {
	f := Filter{
		Text:     strings.TrimSpace(values.Get("q")),
		AnimalID: strings.TrimSpace(values.Get("animalId")),
		DeviceID: strings.TrimSpace(values.Get("deviceId")),
	}

	var err error
	if f.WeightMin, err = parseWeight(values, "weightMin"); err != nil {
		return Filter{}, err
	}
	if f.WeightMax, err = parseWeight(values, "weightMax"); err != nil {
		return Filter{}, err
	}
	if f.WeightMin != nil && f.WeightMax != nil && *f.WeightMin > *f.WeightMax {
		return Filter{}, fmt.Errorf("%w: weightMin is greater than weightMax", models.ErrValidation)
	}

	if f.DateFrom, err = parseDate(values, "dateFrom"); err != nil {
		return Filter{}, err
	}
	if f.DateTo, err = parseDate(values, "dateTo"); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func parseWeight(values url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %s must be a number", models.ErrValidation, key)
	}
	return &v, nil
}

func parseDate(values url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseTimestamp(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %q is not a date", models.ErrValidation, key, raw)
	}
	return &t, nil
}

// ParsePage reads page and pageSize. Missing values fall back to page 1
// and DefaultPageSize.
func ParsePage(values url.Values) (page, pageSize int, err error) {
	page, pageSize = 1, DefaultPageSize

	if raw := values.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("%w: page must be a positive integer", models.ErrValidation)
		}
	}
	if raw := values.Get("pageSize"); raw != "" {
		if pageSize, err = strconv.Atoi(raw); err != nil || pageSize < 1 {
			return 0, 0, fmt.Errorf("%w: pageSize must be a positive integer", models.ErrValidation)
		}
	}
	return page, pageSize, nil
}
