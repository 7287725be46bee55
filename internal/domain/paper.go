package domain

import (
	"strings"
	"time"
)

// Paper is the primary harvested entity. PMID is assigned by PubMed and is
// never generated locally; Title is required. Every other field is optional
// and nil when the source document does not carry it.
type Paper struct {
	PMID  int64
	Title string

	DOI   *string
	PMCID *string

	Abstract *string
	Language *string

	JournalName      *string
	JournalISSN      *string
	JournalISOAbbrev *string

	PubYear  *int
	PubMonth *int
	PubDay   *int

	Volume *string
	Issue  *string
	Pages  *string

	PublicationStatus *string

	// FetchDate is stamped by the loader when the paper row is written.
	FetchDate time.Time
}

// Author is a person credited on one or more papers. Identity is the
// composite (LastName, ForeName, ORCID) where nil and non-nil never match.
type Author struct {
	LastName string
	ForeName *string
	Initials *string
	ORCID    *string
}

// PaperAuthor links an author to a paper at a 1-based position in the
// source author list.
type PaperAuthor struct {
	Author      Author
	Position    int
	Affiliation *string
}

// Citation is a directed edge from the owning paper to a cited work.
type Citation struct {
	CitedPMID *int64
	CitedDOI  *string
	Text      *string
}

// Resolvable reports whether the citation carries an identifier or a DOI.
func (c Citation) Resolvable() bool {
	return c.CitedPMID != nil || (c.CitedDOI != nil && strings.TrimSpace(*c.CitedDOI) != "")
}

// citationKey is the (cited PMID, cited DOI) pair used for deduplication.
// Absent values are tracked separately from zero values.
type citationKey struct {
	pmid    int64
	hasPMID bool
	doi     string
	hasDOI  bool
}

func (c Citation) key() citationKey {
	var k citationKey
	if c.CitedPMID != nil {
		k.pmid, k.hasPMID = *c.CitedPMID, true
	}
	if c.CitedDOI != nil {
		k.doi, k.hasDOI = *c.CitedDOI, true
	}
	return k
}

// OpenAccessRecord holds the optional open-access attributes of a paper.
type OpenAccessRecord struct {
	PMCID        *string
	IsOpenAccess bool
	PMCURL       *string
	PDFURL       *string
	License      *string
}

// RecordGraph is one paper together with its author links, citations and
// optional open-access record, as produced by the transform step.
type RecordGraph struct {
	Paper      Paper
	Authors    []PaperAuthor
	Citations  []Citation
	OpenAccess *OpenAccessRecord
}

// Validate checks the invariants that must hold before a graph may reach
// storage. It returns a *ValidationError wrapping ErrMalformedDocument.
func (g *RecordGraph) Validate() error {
	if g == nil {
		return NewValidationError("graph", "record graph is nil")
	}
	if g.Paper.PMID <= 0 {
		return NewValidationError("pmid", "identifier is required")
	}
	if strings.TrimSpace(g.Paper.Title) == "" {
		return NewValidationError("title", "title is required")
	}
	for _, pa := range g.Authors {
		if strings.TrimSpace(pa.Author.LastName) == "" {
			return NewValidationError("authors.last_name", "last name is required")
		}
		if pa.Position < 1 {
			return NewValidationError("authors.position", "position must be 1-based")
		}
	}
	for _, c := range g.Citations {
		if !c.Resolvable() {
			return NewValidationError("citations", "citation has neither identifier nor DOI")
		}
	}
	return nil
}

// DedupeCitations drops citations whose (cited PMID, cited DOI) pair was
// already seen, keeping the first occurrence and source order.
// It returns the number of citations removed.
func (g *RecordGraph) DedupeCitations() int {
	if len(g.Citations) < 2 {
		return 0
	}
	seen := make(map[citationKey]struct{}, len(g.Citations))
	unique := g.Citations[:0]
	for _, c := range g.Citations {
		k := c.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, c)
	}
	removed := len(g.Citations) - len(unique)
	g.Citations = unique
	return removed
}
