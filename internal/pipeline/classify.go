package pipeline

import (
	"strings"

	"github.com/helixir/pubmed-harvester/internal/domain"
)

// ClassifySearch derives the search type recorded for papers surfaced by query.
func ClassifySearch(query string) domain.SearchType {
	hasMeSH := strings.Contains(query, "MeSH")
	hasTitleAbstract := strings.Contains(query, "Title/Abstract")
	switch {
	case hasMeSH && hasTitleAbstract:
		return domain.SearchTypeTitleAbstractAndMeSH
	case hasMeSH:
		return domain.SearchTypeMeSH
	default:
		return domain.SearchTypeTitleAbstract
	}
}
