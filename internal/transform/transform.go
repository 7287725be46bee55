// Package transform turns raw efetch XML batches into record graphs.
//
// Transform is pure: it holds no state, performs no I/O and returns the same
// graphs and diagnostics for the same input bytes. Malformed documents and
// authors are dropped with a Diagnostic instead of failing the batch; only a
// payload that cannot be decoded at all returns an error.
package transform

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/helixir/pubmed-harvester/internal/domain"
	"github.com/helixir/pubmed-harvester/internal/papersources/pubmed"
)

// PMCArticleURL is the article landing page prefix for PubMed Central ids.
const PMCArticleURL = "https://www.ncbi.nlm.nih.gov/pmc/articles/"

// Reason classifies a dropped document or author.
type Reason string

const (
	ReasonMissingPMID     Reason = "missing_pmid"
	ReasonInvalidPMID     Reason = "invalid_pmid"
	ReasonMissingTitle    Reason = "missing_title"
	ReasonMissingLastName Reason = "missing_last_name"
	ReasonInvalidGraph    Reason = "invalid_graph"
)

// Diagnostic describes one element dropped during transformation.
type Diagnostic struct {
	// Document is the 1-based index of the document within the batch.
	Document int

	// PMID is the raw identifier text, empty when absent.
	PMID string

	// AuthorPosition is set for author-level drops.
	AuthorPosition int

	Reason Reason
	Detail string
}

// DocumentLevel reports whether the whole document was dropped.
func (d Diagnostic) DocumentLevel() bool {
	return d.AuthorPosition == 0
}

// String renders the diagnostic for logs.
func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "document %d", d.Document)
	if d.PMID != "" {
		fmt.Fprintf(&b, " (pmid %s)", d.PMID)
	}
	if d.AuthorPosition > 0 {
		fmt.Fprintf(&b, " author %d", d.AuthorPosition)
	}
	fmt.Fprintf(&b, ": %s", d.Reason)
	if d.Detail != "" {
		b.WriteString(": " + d.Detail)
	}
	return b.String()
}

// Batch is the result of transforming one raw payload.
type Batch struct {
	// Documents is the number of PubmedArticle elements in the payload.
	Documents int

	// Graphs holds the valid record graphs in document order.
	Graphs []domain.RecordGraph

	// Diagnostics lists dropped documents and authors in document order.
	Diagnostics []Diagnostic

	// DroppedCitations counts references with neither identifier nor DOI.
	DroppedCitations int
}

// Skipped returns the number of documents dropped entirely.
func (b *Batch) Skipped() int {
	n := 0
	for _, d := range b.Diagnostics {
		if d.DocumentLevel() {
			n++
		}
	}
	return n
}

// Transform decodes a PubmedArticleSet payload and extracts one record graph
// per valid document. The error is non-nil only when the payload is not a
// decodable article set; it then wraps domain.ErrMalformedDocument.
func Transform(raw []byte) (*Batch, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrMalformedDocument)
	}

	var set pubmed.PubmedArticleSet
	if err := xml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("%w: decode article set: %v", domain.ErrMalformedDocument, err)
	}

	batch := &Batch{
		Documents: len(set.Articles),
		Graphs:    make([]domain.RecordGraph, 0, len(set.Articles)),
	}
	for i, article := range set.Articles {
		graph, diags, dropped := transformArticle(i+1, article)
		batch.Diagnostics = append(batch.Diagnostics, diags...)
		batch.DroppedCitations += dropped
		if graph != nil {
			batch.Graphs = append(batch.Graphs, *graph)
		}
	}
	return batch, nil
}

func transformArticle(doc int, article pubmed.PubmedArticle) (*domain.RecordGraph, []Diagnostic, int) {
	citation := article.MedlineCitation
	rawPMID := strings.TrimSpace(citation.PMID.Value)

	drop := func(reason Reason, detail string) (*domain.RecordGraph, []Diagnostic, int) {
		return nil, []Diagnostic{{Document: doc, PMID: rawPMID, Reason: reason, Detail: detail}}, 0
	}

	if rawPMID == "" {
		return drop(ReasonMissingPMID, "")
	}
	pmid, err := strconv.ParseInt(rawPMID, 10, 64)
	if err != nil || pmid <= 0 {
		return drop(ReasonInvalidPMID, "identifier is not a positive integer")
	}

	title := citation.Article.ArticleTitle.String()
	if title == "" {
		return drop(ReasonMissingTitle, "")
	}

	paper := domain.Paper{
		PMID:              pmid,
		Title:             title,
		Abstract:          extractAbstract(citation.Article.Abstract),
		Language:          firstNonBlank(citation.Article.Language),
		PublicationStatus: optionalString(citation.Status),
	}
	paper.DOI, paper.PMCID = extractArticleIDs(citation.Article, article.PubmedData)
	applyJournal(&paper, citation.Article.Journal)
	paper.Pages = extractPages(citation.Article.Pagination)

	authors, diags := extractAuthors(doc, rawPMID, citation.Article.AuthorList)
	citations, dropped := extractCitations(article.PubmedData.ReferenceList)

	graph := &domain.RecordGraph{
		Paper:      paper,
		Authors:    authors,
		Citations:  citations,
		OpenAccess: openAccessFor(paper.PMCID),
	}
	if err := graph.Validate(); err != nil {
		return nil, append(diags, Diagnostic{Document: doc, PMID: rawPMID, Reason: ReasonInvalidGraph, Detail: err.Error()}), dropped
	}
	return graph, diags, dropped
}

// extractArticleIDs reads the DOI and PMC id from the article-level id list,
// falling back to a valid DOI ELocationID.
func extractArticleIDs(article pubmed.Article, data pubmed.PubmedData) (doi, pmcid *string) {
	for _, aid := range data.ArticleIdList.ArticleIds {
		switch aid.IdType {
		case "doi":
			doi = optionalString(aid.Value)
		case "pmc":
			pmcid = optionalString(aid.Value)
		}
	}
	if doi == nil {
		for _, eloc := range article.ELocationID {
			if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
				if doi = optionalString(eloc.Value); doi != nil {
					break
				}
			}
		}
	}
	return doi, pmcid
}

func applyJournal(paper *domain.Paper, journal pubmed.Journal) {
	paper.JournalName = optionalString(journal.Title)
	paper.JournalISOAbbrev = optionalString(journal.ISOAbbreviation)
	if journal.ISSN != nil {
		paper.JournalISSN = optionalString(journal.ISSN.Value)
	}
	paper.Volume = optionalString(journal.JournalIssue.Volume)
	paper.Issue = optionalString(journal.JournalIssue.Issue)

	date := journal.JournalIssue.PubDate
	if date == nil {
		return
	}
	paper.PubYear = parseInt(date.Year)
	if paper.PubYear == nil {
		paper.PubYear = extractYearFromMedlineDate(date.MedlineDate)
	}
	paper.PubMonth = NormalizeMonth(date.Month)
	if day := parseInt(date.Day); day != nil && *day >= 1 && *day <= 31 {
		paper.PubDay = day
	}
}

// extractAbstract joins the abstract segments in document order, prefixing
// labelled segments with "Label: ".
func extractAbstract(abstract *pubmed.Abstract) *string {
	if abstract == nil {
		return nil
	}
	parts := make([]string, 0, len(abstract.AbstractTexts))
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else if text != "" {
			parts = append(parts, text)
		}
	}
	return optionalString(strings.Join(parts, " "))
}

func extractPages(pagination *pubmed.Pagination) *string {
	if pagination == nil {
		return nil
	}
	if pgn := optionalString(pagination.MedlinePgn); pgn != nil {
		return pgn
	}
	start := strings.TrimSpace(pagination.StartPage)
	end := strings.TrimSpace(pagination.EndPage)
	if start != "" && end != "" && end != start {
		return optionalString(start + "-" + end)
	}
	return optionalString(start)
}

// extractAuthors keeps the 1-based source position of every author, so a
// dropped author leaves a gap rather than shifting later positions.
func extractAuthors(doc int, rawPMID string, list *pubmed.AuthorList) ([]domain.PaperAuthor, []Diagnostic) {
	if list == nil || len(list.Authors) == 0 {
		return nil, nil
	}

	var (
		authors []domain.PaperAuthor
		diags   []Diagnostic
	)
	for i, a := range list.Authors {
		position := i + 1
		lastName := strings.TrimSpace(a.LastName)
		if lastName == "" {
			detail := ""
			if name := strings.TrimSpace(a.CollectiveName); name != "" {
				detail = "collective name " + strconv.Quote(name)
			}
			diags = append(diags, Diagnostic{
				Document:       doc,
				PMID:           rawPMID,
				AuthorPosition: position,
				Reason:         ReasonMissingLastName,
				Detail:         detail,
			})
			continue
		}

		pa := domain.PaperAuthor{
			Author: domain.Author{
				LastName: lastName,
				ForeName: optionalString(a.ForeName),
				Initials: optionalString(a.Initials),
			},
			Position: position,
		}
		for _, id := range a.Identifiers {
			if id.Source == "ORCID" {
				pa.Author.ORCID = optionalString(id.Value)
				break
			}
		}
		if len(a.AffiliationInfo) > 0 {
			pa.Affiliation = optionalString(a.AffiliationInfo[0].Affiliation)
		}
		authors = append(authors, pa)
	}
	return authors, diags
}

// extractCitations keeps references carrying a cited PMID or DOI, in source
// order. When a reference lists an id type twice the last value wins.
func extractCitations(lists []pubmed.ReferenceList) ([]domain.Citation, int) {
	if len(lists) == 0 {
		return nil, 0
	}

	var (
		citations []domain.Citation
		dropped   int
	)
	for _, ref := range lists[0].References {
		var c domain.Citation
		if ref.ArticleIdList != nil {
			for _, aid := range ref.ArticleIdList.ArticleIds {
				switch aid.IdType {
				case "pubmed":
					if id, err := strconv.ParseInt(strings.TrimSpace(aid.Value), 10, 64); err == nil && id > 0 {
						c.CitedPMID = &id
					}
				case "doi":
					if v := optionalString(aid.Value); v != nil {
						c.CitedDOI = v
					}
				}
			}
		}
		if !c.Resolvable() {
			dropped++
			continue
		}
		c.Text = optionalString(ref.Citation.String())
		citations = append(citations, c)
	}
	return citations, dropped
}

// openAccessFor derives the open-access record from a PMC id.
func openAccessFor(pmcid *string) *domain.OpenAccessRecord {
	if pmcid == nil {
		return nil
	}
	id := *pmcid
	link := PMCArticleURL + id + "/"
	return &domain.OpenAccessRecord{
		PMCID:        &id,
		IsOpenAccess: true,
		PMCURL:       &link,
	}
}
