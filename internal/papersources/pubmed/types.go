// Package pubmed implements the two-phase E-utilities search session used to
// harvest PubMed records, together with the esearch and efetch wire types.
//
// The E-utilities API documentation is available at:
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import (
	"encoding/xml"
	"strings"
)

// ESearchResponse is the JSON envelope returned by esearch.fcgi with retmode=json.
type ESearchResponse struct {
	Result *ESearchResult `json:"esearchresult"`
}

// ESearchResult carries the match count and either a history handle or an ID list.
type ESearchResult struct {
	Count     string            `json:"count"`
	RetMax    string            `json:"retmax"`
	RetStart  string            `json:"retstart"`
	QueryKey  string            `json:"querykey"`
	WebEnv    string            `json:"webenv"`
	IDList    []string          `json:"idlist"`
	Error     string            `json:"ERROR"`
	ErrorList *ESearchErrorList `json:"errorlist,omitempty"`
}

// ESearchErrorList contains query terms the server could not resolve.
type ESearchErrorList struct {
	PhrasesNotFound []string `json:"phrasesnotfound"`
	FieldsNotFound  []string `json:"fieldsnotfound"`
}

// PubmedArticleSet represents the response from the efetch.fcgi endpoint.
type PubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []PubmedArticle `xml:"PubmedArticle"`
}

// PubmedArticle represents a single article in the PubMed database.
type PubmedArticle struct {
	MedlineCitation MedlineCitation `xml:"MedlineCitation"`
	PubmedData      PubmedData      `xml:"PubmedData"`
}

// MedlineCitation contains the core bibliographic information.
type MedlineCitation struct {
	Status  string  `xml:"Status,attr,omitempty"`
	PMID    PMID    `xml:"PMID"`
	Article Article `xml:"Article"`
}

// PMID represents the PubMed identifier with optional version.
type PMID struct {
	Version int    `xml:"Version,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// Article contains the article metadata.
type Article struct {
	Journal      Journal       `xml:"Journal"`
	ArticleTitle Text          `xml:"ArticleTitle"`
	Pagination   *Pagination   `xml:"Pagination,omitempty"`
	ELocationID  []ELocationID `xml:"ELocationID,omitempty"`
	Abstract     *Abstract     `xml:"Abstract,omitempty"`
	AuthorList   *AuthorList   `xml:"AuthorList,omitempty"`
	Language     []string      `xml:"Language,omitempty"`
}

// Journal contains journal information.
type Journal struct {
	ISSN            *ISSN        `xml:"ISSN,omitempty"`
	JournalIssue    JournalIssue `xml:"JournalIssue"`
	Title           string       `xml:"Title,omitempty"`
	ISOAbbreviation string       `xml:"ISOAbbreviation,omitempty"`
}

// ISSN represents the journal ISSN.
type ISSN struct {
	IssnType string `xml:"IssnType,attr,omitempty"`
	Value    string `xml:",chardata"`
}

// JournalIssue contains the volume, issue, and publication date.
type JournalIssue struct {
	Volume  string   `xml:"Volume,omitempty"`
	Issue   string   `xml:"Issue,omitempty"`
	PubDate *PubDate `xml:"PubDate,omitempty"`
}

// PubDate represents the publication date which may have various formats.
type PubDate struct {
	Year        string `xml:"Year,omitempty"`
	Month       string `xml:"Month,omitempty"`
	Day         string `xml:"Day,omitempty"`
	Season      string `xml:"Season,omitempty"`
	MedlineDate string `xml:"MedlineDate,omitempty"`
}

// Pagination contains page information.
type Pagination struct {
	StartPage  string `xml:"StartPage,omitempty"`
	EndPage    string `xml:"EndPage,omitempty"`
	MedlinePgn string `xml:"MedlinePgn,omitempty"`
}

// ELocationID represents an electronic location identifier (DOI or PII).
type ELocationID struct {
	EIdType string `xml:"EIdType,attr"`
	Valid   string `xml:"ValidYN,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// Abstract contains the article abstract, which may have multiple sections.
type Abstract struct {
	AbstractTexts []AbstractText `xml:"AbstractText"`
}

// AbstractText represents a section of the abstract.
// Structured abstracts have labeled sections (Background, Methods, Results, etc.).
type AbstractText struct {
	Label       string
	NlmCategory string
	Value       string
}

// UnmarshalXML reads the Label and NlmCategory attributes and the full
// mixed-content text of the section.
func (a *AbstractText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "Label":
			a.Label = attr.Value
		case "NlmCategory":
			a.NlmCategory = attr.Value
		}
	}
	var t Text
	if err := t.UnmarshalXML(d, start); err != nil {
		return err
	}
	a.Value = string(t)
	return nil
}

// AuthorList contains the list of authors.
type AuthorList struct {
	CompleteYN string   `xml:"CompleteYN,attr,omitempty"`
	Authors    []Author `xml:"Author"`
}

// Author represents a single author with name and optional identifiers.
type Author struct {
	ValidYN         string            `xml:"ValidYN,attr,omitempty"`
	LastName        string            `xml:"LastName,omitempty"`
	ForeName        string            `xml:"ForeName,omitempty"`
	Initials        string            `xml:"Initials,omitempty"`
	Suffix          string            `xml:"Suffix,omitempty"`
	CollectiveName  string            `xml:"CollectiveName,omitempty"`
	Identifiers     []Identifier      `xml:"Identifier,omitempty"`
	AffiliationInfo []AffiliationInfo `xml:"AffiliationInfo,omitempty"`
}

// Identifier represents an author identifier (e.g., ORCID).
type Identifier struct {
	Source string `xml:"Source,attr"`
	Value  string `xml:",chardata"`
}

// AffiliationInfo contains author affiliation information.
type AffiliationInfo struct {
	Affiliation string `xml:"Affiliation"`
}

// PubmedData contains additional PubMed-specific data.
type PubmedData struct {
	PublicationStatus string          `xml:"PublicationStatus,omitempty"`
	ArticleIdList     ArticleIdList   `xml:"ArticleIdList"`
	ReferenceList     []ReferenceList `xml:"ReferenceList,omitempty"`
}

// ArticleIdList contains various identifiers for the article.
type ArticleIdList struct {
	ArticleIds []ArticleId `xml:"ArticleId"`
}

// ArticleId represents an article identifier (PMID, DOI, PMC, etc.).
type ArticleId struct {
	IdType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

// ReferenceList contains references cited by the article.
type ReferenceList struct {
	References []Reference `xml:"Reference"`
}

// Reference represents a single reference.
type Reference struct {
	Citation      Text           `xml:"Citation,omitempty"`
	ArticleIdList *ArticleIdList `xml:"ArticleIdList,omitempty"`
}

// Text is element content including the character data of nested inline
// markup such as <i>, <sup> or <b>.
type Text string

// UnmarshalXML concatenates every character-data token inside the element.
func (t *Text) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tk := tok.(type) {
		case xml.CharData:
			b.Write(tk)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				*t = Text(b.String())
				return nil
			}
			depth--
		}
	}
}

// String returns the text with surrounding whitespace trimmed.
func (t Text) String() string {
	return strings.TrimSpace(string(t))
}
