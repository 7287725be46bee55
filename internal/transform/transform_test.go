package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/pubmed-harvester/internal/domain"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func article(pmid, title string) string {
	return `<PubmedArticle><MedlineCitation><PMID>` + pmid + `</PMID><Article><ArticleTitle>` +
		title + `</ArticleTitle></Article></MedlineCitation></PubmedArticle>`
}

func articleSet(articles ...string) []byte {
	out := "<PubmedArticleSet>"
	for _, a := range articles {
		out += a
	}
	return []byte(out + "</PubmedArticleSet>")
}

func TestTransform_FiveDocumentFixture(t *testing.T) {
	batch, err := Transform(loadFixture(t, "five_documents.xml"))
	require.NoError(t, err)

	assert.Equal(t, 5, batch.Documents)
	require.Len(t, batch.Graphs, 4)
	assert.Equal(t, 1, batch.Skipped())

	pmids := make([]int64, 0, len(batch.Graphs))
	for _, g := range batch.Graphs {
		pmids = append(pmids, g.Paper.PMID)
	}
	assert.Equal(t, []int64{38012345, 38012346, 38012348, 38012349}, pmids)

	assert.Len(t, batch.Graphs[0].Authors, 2)
	assert.Len(t, batch.Graphs[1].Authors, 1)
	assert.Len(t, batch.Graphs[2].Authors, 2)
	assert.Empty(t, batch.Graphs[3].Authors)

	var docLevel []Diagnostic
	for _, d := range batch.Diagnostics {
		if d.DocumentLevel() {
			docLevel = append(docLevel, d)
		}
	}
	require.Len(t, docLevel, 1)
	assert.Equal(t, 3, docLevel[0].Document)
	assert.Equal(t, "38012347", docLevel[0].PMID)
	assert.Equal(t, ReasonMissingTitle, docLevel[0].Reason)

	assert.Equal(t, 1, batch.DroppedCitations)
}

func TestTransform_FullDocument(t *testing.T) {
	batch, err := Transform(loadFixture(t, "five_documents.xml"))
	require.NoError(t, err)
	g := batch.Graphs[0]
	p := g.Paper

	assert.Equal(t, int64(38012345), p.PMID)
	assert.Equal(t, "Subicular bursting neurons gate hippocampal output.", p.Title)
	require.NotNil(t, p.DOI)
	assert.Equal(t, "10.1523/JNEUROSCI.1234-23.2024", *p.DOI)
	require.NotNil(t, p.PMCID)
	assert.Equal(t, "PMC10800001", *p.PMCID)
	require.NotNil(t, p.Abstract)
	assert.Equal(t, "BACKGROUND: The subiculum is the main output. RESULTS: Bursting cells project to a targets.", *p.Abstract)
	assert.Equal(t, "eng", *p.Language)
	assert.Equal(t, "J Neurosci", *p.JournalISOAbbrev)
	assert.Equal(t, "1529-2401", *p.JournalISSN)
	assert.Contains(t, *p.JournalName, "Journal of neuroscience")
	assert.Equal(t, 2024, *p.PubYear)
	assert.Equal(t, 1, *p.PubMonth)
	assert.Equal(t, 17, *p.PubDay)
	assert.Equal(t, "44", *p.Volume)
	assert.Equal(t, "3", *p.Issue)
	assert.Equal(t, "e1234-45", *p.Pages)
	assert.Equal(t, "MEDLINE", *p.PublicationStatus)
	assert.True(t, p.FetchDate.IsZero())

	first := g.Authors[0]
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "Kim", first.Author.LastName)
	assert.Equal(t, "Ji-Won", *first.Author.ForeName)
	assert.Equal(t, "JW", *first.Author.Initials)
	assert.Equal(t, "0000-0002-1825-0097", *first.Author.ORCID)
	assert.Equal(t, "Department of Neuroscience, Example University.", *first.Affiliation)

	second := g.Authors[1]
	assert.Equal(t, 2, second.Position)
	assert.Nil(t, second.Author.ORCID)
	assert.Nil(t, second.Affiliation)

	require.Len(t, g.Citations, 2)
	assert.Equal(t, int64(11311458), *g.Citations[0].CitedPMID)
	assert.Nil(t, g.Citations[0].CitedDOI)
	assert.Equal(t, "O'Mara S. The subiculum. Prog Neurobiol. 2001.", *g.Citations[0].Text)
	assert.Equal(t, int64(29398359), *g.Citations[1].CitedPMID)
	assert.Equal(t, "10.1016/j.neuron.2018.01.001", *g.Citations[1].CitedDOI)
	assert.Equal(t, "Böhm C et al. Subicular output. Neuron. 2018.", *g.Citations[1].Text)

	require.NotNil(t, g.OpenAccess)
	assert.True(t, g.OpenAccess.IsOpenAccess)
	assert.Equal(t, "PMC10800001", *g.OpenAccess.PMCID)
	assert.Equal(t, "https://www.ncbi.nlm.nih.gov/pmc/articles/PMC10800001/", *g.OpenAccess.PMCURL)
	assert.Nil(t, g.OpenAccess.PDFURL)
}

func TestTransform_OptionalFieldsDefaultToAbsent(t *testing.T) {
	batch, err := Transform(loadFixture(t, "five_documents.xml"))
	require.NoError(t, err)

	medline := batch.Graphs[1].Paper
	assert.Equal(t, 2023, *medline.PubYear)
	assert.Nil(t, medline.PubMonth)
	assert.Nil(t, medline.PubDay)
	assert.Nil(t, medline.DOI)
	assert.Nil(t, medline.PMCID)
	assert.Nil(t, medline.Pages)
	assert.Equal(t, "PubMed-not-MEDLINE", *medline.PublicationStatus)
	assert.Equal(t, "Single segment abstract.", *medline.Abstract)
	assert.Nil(t, batch.Graphs[1].OpenAccess)
	assert.Empty(t, batch.Graphs[1].Citations)

	season := batch.Graphs[2].Paper
	assert.Equal(t, 2022, *season.PubYear)
	assert.Nil(t, season.PubMonth)
	assert.Nil(t, season.PubDay)
	assert.Equal(t, "101-110", *season.Pages)
	assert.Nil(t, season.Abstract)
	assert.Nil(t, season.Language)
	assert.Nil(t, season.JournalName)

	badMonth := batch.Graphs[3].Paper
	assert.Equal(t, 2021, *badMonth.PubYear)
	assert.Nil(t, badMonth.PubMonth)
}

func TestTransform_AuthorPositionsKeepGaps(t *testing.T) {
	batch, err := Transform(loadFixture(t, "five_documents.xml"))
	require.NoError(t, err)

	authors := batch.Graphs[2].Authors
	require.Len(t, authors, 2)
	assert.Equal(t, 1, authors[0].Position)
	assert.Equal(t, "Kim", authors[0].Author.LastName)
	assert.Equal(t, 3, authors[1].Position)
	assert.Equal(t, "Lee", authors[1].Author.LastName)
	assert.Nil(t, authors[1].Author.ForeName)

	var authorDiags []Diagnostic
	for _, d := range batch.Diagnostics {
		if !d.DocumentLevel() {
			authorDiags = append(authorDiags, d)
		}
	}
	require.Len(t, authorDiags, 2)
	assert.Equal(t, Diagnostic{
		Document:       4,
		PMID:           "38012348",
		AuthorPosition: 2,
		Reason:         ReasonMissingLastName,
		Detail:         `collective name "Subiculum Consortium"`,
	}, authorDiags[0])
	assert.Equal(t, 5, authorDiags[1].Document)
	assert.Equal(t, 1, authorDiags[1].AuthorPosition)
}

func TestTransform_Leniency(t *testing.T) {
	tests := []struct {
		name        string
		payload     []byte
		wantGraphs  int
		wantSkipped int
		wantReasons []Reason
	}{
		{
			name:        "all valid",
			payload:     articleSet(article("1", "One"), article("2", "Two")),
			wantGraphs:  2,
			wantSkipped: 0,
		},
		{
			name:        "missing pmid",
			payload:     articleSet(article("", "No id"), article("2", "Two")),
			wantGraphs:  1,
			wantSkipped: 1,
			wantReasons: []Reason{ReasonMissingPMID},
		},
		{
			name:        "non-integer pmid",
			payload:     articleSet(article("abc", "Bad id"), article("-4", "Negative")),
			wantGraphs:  0,
			wantSkipped: 2,
			wantReasons: []Reason{ReasonInvalidPMID, ReasonInvalidPMID},
		},
		{
			name:        "blank title",
			payload:     articleSet(article("3", "   "), article("4", "<i>Only markup text</i>")),
			wantGraphs:  1,
			wantSkipped: 1,
			wantReasons: []Reason{ReasonMissingTitle},
		},
		{
			name:        "empty set",
			payload:     articleSet(),
			wantGraphs:  0,
			wantSkipped: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := Transform(tt.payload)
			require.NoError(t, err)

			assert.Len(t, batch.Graphs, tt.wantGraphs)
			assert.Equal(t, tt.wantSkipped, batch.Skipped())

			var reasons []Reason
			for _, d := range batch.Diagnostics {
				reasons = append(reasons, d.Reason)
			}
			assert.Equal(t, tt.wantReasons, reasons)
		})
	}
}

func TestTransform_UndecodablePayload(t *testing.T) {
	for name, payload := range map[string][]byte{
		"empty":      nil,
		"blank":      []byte("  \n"),
		"truncated":  []byte("<PubmedArticleSet><PubmedArticle>"),
		"wrong root": []byte("<eSearchResult><Count>1</Count></eSearchResult>"),
	} {
		t.Run(name, func(t *testing.T) {
			batch, err := Transform(payload)
			assert.Nil(t, batch)
			assert.ErrorIs(t, err, domain.ErrMalformedDocument)
		})
	}
}

func TestTransform_Deterministic(t *testing.T) {
	raw := loadFixture(t, "five_documents.xml")

	first, err := Transform(raw)
	require.NoError(t, err)
	second, err := Transform(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTransform_CitationsKeepSourceOrderAndDuplicates(t *testing.T) {
	payload := articleSet(`<PubmedArticle>
	  <MedlineCitation><PMID>10</PMID><Article><ArticleTitle>Cites</ArticleTitle></Article></MedlineCitation>
	  <PubmedData>
	    <ReferenceList>
	      <Reference><ArticleIdList><ArticleId IdType="pubmed">3</ArticleId></ArticleIdList></Reference>
	      <Reference><ArticleIdList><ArticleId IdType="pubmed">1</ArticleId></ArticleIdList></Reference>
	      <Reference><ArticleIdList><ArticleId IdType="pubmed">not-a-number</ArticleId></ArticleIdList></Reference>
	      <Reference><ArticleIdList><ArticleId IdType="pubmed">3</ArticleId></ArticleIdList></Reference>
	      <Reference><ArticleIdList><ArticleId IdType="pmc">PMC1</ArticleId></ArticleIdList></Reference>
	    </ReferenceList>
	  </PubmedData>
	</PubmedArticle>`)

	batch, err := Transform(payload)
	require.NoError(t, err)
	require.Len(t, batch.Graphs, 1)

	var cited []int64
	for _, c := range batch.Graphs[0].Citations {
		require.True(t, c.Resolvable())
		cited = append(cited, *c.CitedPMID)
	}
	assert.Equal(t, []int64{3, 1, 3}, cited)
	assert.Equal(t, 2, batch.DroppedCitations)
}

func TestTransform_DOIFallsBackToELocationID(t *testing.T) {
	payload := articleSet(`<PubmedArticle>
	  <MedlineCitation><PMID>11</PMID><Article>
	    <ArticleTitle>Fallback</ArticleTitle>
	    <ELocationID EIdType="pii" ValidYN="Y">S0001</ELocationID>
	    <ELocationID EIdType="doi" ValidYN="N">10.bad/invalid</ELocationID>
	    <ELocationID EIdType="doi" ValidYN="Y">10.1000/valid</ELocationID>
	  </Article></MedlineCitation>
	  <PubmedData>
	    <ReferenceList>
	      <Reference><ArticleIdList><ArticleId IdType="doi">10.1000/reference-only</ArticleId></ArticleIdList></Reference>
	    </ReferenceList>
	  </PubmedData>
	</PubmedArticle>`)

	batch, err := Transform(payload)
	require.NoError(t, err)
	require.Len(t, batch.Graphs, 1)
	require.NotNil(t, batch.Graphs[0].Paper.DOI)
	assert.Equal(t, "10.1000/valid", *batch.Graphs[0].Paper.DOI)
}

func TestDiagnostic_String(t *testing.T) {
	d := Diagnostic{Document: 4, PMID: "38012348", AuthorPosition: 2, Reason: ReasonMissingLastName}
	assert.Equal(t, "document 4 (pmid 38012348) author 2: missing_last_name", d.String())

	d = Diagnostic{Document: 1, Reason: ReasonMissingPMID, Detail: "empty"}
	assert.Equal(t, "document 1: missing_pmid: empty", d.String())
}
