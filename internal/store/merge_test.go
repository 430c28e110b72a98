package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeStringDefaults(t *testing.T) {
	p := DefaultMergePolicy()

	assert.Equal(t, "kept", p.mergeString("company", "kept", ""))
	assert.Equal(t, "new", p.mergeString("company", "", "new"))
	assert.Equal(t, "the longer value", p.mergeString("company", "short", "the longer value"))
	assert.Equal(t, "longer existing", p.mergeString("company", "longer existing", "short"))
}

func TestMergeStringPreferLongerOff(t *testing.T) {
	p := MergePolicy{PreferLonger: false}

	assert.Equal(t, "short", p.mergeString("company", "short", "the longer value"))
	assert.Equal(t, "new", p.mergeString("company", "", "new"))
}

func TestMergeStringFieldOverrides(t *testing.T) {
	p := MergePolicy{
		PreferLonger:   true,
		FieldOverrides: map[string]string{"title": "incoming", "company": "existing"},
	}

	assert.Equal(t, "VP Sales", p.mergeString("title", "Head of Growth Marketing", "VP Sales"))
	assert.Equal(t, "Acme", p.mergeString("company", "Acme", "Acme Corporation Intl"))
	// override never blanks a field
	assert.Equal(t, "Head of Growth", p.mergeString("title", "Head of Growth", ""))
	assert.Equal(t, "Acme", p.mergeString("company", "", "Acme"))
}

func TestMergeLeadFlagsStick(t *testing.T) {
	existing := &Lead{FullName: "Jane Doe", Verified: true, Enriched: false, NeedsEnrichment: true}
	in := LeadInput{FullName: "Jane Doe", Enriched: true}

	updates := mergeLead(existing, in, DefaultMergePolicy())
	assert.NotContains(t, updates, "verified")
	assert.Equal(t, 1, updates["enriched"])
	assert.Equal(t, 0, updates["needs_enrichment"])
}

func TestMergeLeadNoChangesIsEmpty(t *testing.T) {
	existing := &Lead{FullName: "Jane Doe", Email: "jane@acme.com"}
	in := LeadInput{FullName: "Jane Doe", Email: "jane@acme.com"}

	assert.Empty(t, mergeLead(existing, in, DefaultMergePolicy()))
}

func TestMergeLeadTimestampsTakeIncoming(t *testing.T) {
	existing := &Lead{FullName: "Jane Doe", ScrapedAt: "2026-01-01T00:00:00Z"}
	in := LeadInput{FullName: "Jane Doe", ScrapedAt: "2026-02-01T00:00:00Z"}

	updates := mergeLead(existing, in, DefaultMergePolicy())
	assert.Equal(t, "2026-02-01T00:00:00Z", updates["scraped_at"])
}

func TestNormalizeLinkedInURL(t *testing.T) {
	cases := map[string]string{
		"https://linkedin.com/in/janedoe/":               "https://linkedin.com/in/janedoe",
		"http://LinkedIn.com/in/janedoe?utm_source=x":    "https://linkedin.com/in/janedoe",
		"https://www.linkedin.com/in/janedoe#experience": "https://www.linkedin.com/in/janedoe",
		"  https://linkedin.com/in/janedoe  ":            "https://linkedin.com/in/janedoe",
		"": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLinkedInURL(in), "input %q", in)
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Acme Inc", normalizeText("  Acme   Inc "))
	assert.Equal(t, "", normalizeText("   "))
}
