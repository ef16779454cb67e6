package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var ErrBadSearch = errors.New("invalid search request")

// sortable maps the public sort field names to their column names.
var sortable = map[string]string{
	"id":         "id",
	"login":      "login",
	"full_name":  "full_name",
	"fullname":   "full_name",
	"birth_date": "birth_date",
	"birthdate":  "birth_date",
	"email":      "email",
	"phone":      "phone",
}

// UserFilter narrows a user search. Zero values are ignored; set filters are AND-ed.
type UserFilter struct {
	BirthDateAfter *time.Time `json:"birth_date_after,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	FullNamePrefix string     `json:"full_name_prefix,omitempty"`
	Email          string     `json:"email,omitempty"`
}

type SortField struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

type PageRequest struct {
	Page int         `json:"page"`
	Size int         `json:"size"`
	Sort []SortField `json:"sort"`
}

// Offset is the number of rows to skip.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// NewPageRequest validates paging input and fills in defaults.
// A zero size means DefaultPageSize.
func NewPageRequest(page, size int, sort []string) (PageRequest, error) {
	if page < 0 {
		return PageRequest{}, fmt.Errorf("%w: page must not be negative", ErrBadSearch)
	}
	if size == 0 {
		size = DefaultPageSize
	}
	if size < 0 || size > MaxPageSize {
		return PageRequest{}, fmt.Errorf("%w: size must be between 1 and %d", ErrBadSearch, MaxPageSize)
	}

	fields, err := ParseSort(sort)
	if err != nil {
		return PageRequest{}, err
	}
	return PageRequest{Page: page, Size: size, Sort: fields}, nil
}

// ParseSort parses "field" or "field,dir" values. No values means id ascending.
func ParseSort(values []string) ([]SortField, error) {
	var fields []SortField
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		name, dir, _ := strings.Cut(v, ",")
		column, ok := sortable[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sort field %q", ErrBadSearch, name)
		}

		field := SortField{Column: column}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			field.Desc = true
		default:
			return nil, fmt.Errorf("%w: unknown sort direction %q", ErrBadSearch, dir)
		}
		fields = append(fields, field)
	}

	if len(fields) == 0 {
		fields = []SortField{{Column: "id"}}
	}
	return fields, nil
}
