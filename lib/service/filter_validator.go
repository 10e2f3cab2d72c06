package service

import (
	"fmt"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getAlby/knostr.go/lib/responses"
	"github.com/samber/lo"
)

const (
	MaxAuthorsCount        = 40
	MinAuthorLength        = 20
	MaxTagsCount           = 20
	MaxIDsCount            = 40
	MinIDLength            = 20
	MaxSearchKeywordsCount = 2
	MaxFilters             = 10
)

// ValidateFilters rejects abusive filter sets. Checks run in a fixed order
// and the first violation is returned; nil means the set is acceptable.
func ValidateFilters(filters []models.EventFilter) *responses.NoticeResult {
	switch {
	case lo.SomeBy(filters, func(f models.EventFilter) bool { return len(f.Authors) > MaxAuthorsCount }):
		return responses.InvalidNotice(fmt.Sprintf("pubkey count must be less than or equal to %d", MaxAuthorsCount))
	case lo.SomeBy(filters, func(f models.EventFilter) bool { return anyShorterThan(f.Authors, MinAuthorLength) }):
		return responses.InvalidNotice(fmt.Sprintf("pubkey size must be greater than or equal to %d", MinAuthorLength))
	case lo.SomeBy(filters, func(f models.EventFilter) bool { return anyShorterThan(f.IDs, MinIDLength) }):
		return responses.InvalidNotice(fmt.Sprintf("id size must be greater than or equal to %d", MinIDLength))
	case lo.SomeBy(filters, func(f models.EventFilter) bool {
		return lo.SomeBy(lo.Values(f.Tags), func(values []string) bool { return len(values) > MaxTagsCount })
	}):
		return responses.InvalidNotice(fmt.Sprintf("tags count must be less than or equal to %d", MaxTagsCount))
	case lo.SomeBy(filters, func(f models.EventFilter) bool { return len(f.IDs) > MaxIDsCount }):
		return responses.InvalidNotice(fmt.Sprintf("ids count must be less than or equal to %d", MaxIDsCount))
	case lo.SomeBy(filters, func(f models.EventFilter) bool { return len(f.SearchKeywords()) > MaxSearchKeywordsCount }):
		return responses.InvalidNotice(fmt.Sprintf("searchKeywords size must be less than or equal to %d", MaxSearchKeywordsCount))
	case len(filters) == 0:
		return responses.InvalidNotice("at least one filter is required")
	case len(filters) > MaxFilters:
		return responses.InvalidNotice(fmt.Sprintf("filters count must be less than or equal to %d", MaxFilters))
	}
	return nil
}

func anyShorterThan(values []string, min int) bool {
	return lo.SomeBy(values, func(v string) bool { return len(v) < min })
}
