package store

// MergePolicy decides which side wins when a duplicate insert brings a value
// the stored row already has. The default matches how the pipeline behaves
// in practice: never throw data away, prefer the more detailed value.
type MergePolicy struct {
	// PreferLonger breaks both-non-empty ties by string length.
	// When false the stored value is kept.
	PreferLonger bool
	// FieldOverrides pins a winner per field: "existing" or "incoming".
	FieldOverrides map[string]string
}

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{PreferLonger: true}
}

func (p MergePolicy) mergeString(field, existing, incoming string) string {
	switch p.FieldOverrides[field] {
	case "existing":
		if existing != "" {
			return existing
		}
		return incoming
	case "incoming":
		if incoming != "" {
			return incoming
		}
		return existing
	}
	if incoming == "" {
		return existing
	}
	if existing == "" {
		return incoming
	}
	if p.PreferLonger && len(incoming) > len(existing) {
		return incoming
	}
	return existing
}

// mergeLead computes the column updates that fold in into existing.
// Additive only: a field never goes from set to unset.
func mergeLead(existing *Lead, in LeadInput, p MergePolicy) map[string]any {
	updates := make(map[string]any)

	set := func(col, old, new string) {
		if v := p.mergeString(col, old, new); v != old {
			updates[col] = v
		}
	}

	set("full_name", existing.FullName, in.FullName)
	set("email", existing.Email, in.Email)
	set("company", existing.Company, in.Company)
	set("title", existing.Title, in.Title)
	set("linkedin_url", existing.LinkedInURL, in.LinkedInURL)
	set("location", existing.Location, in.Location)
	set("industry", existing.Industry, in.Industry)
	set("company_size", existing.CompanySize, in.CompanySize)
	set("source", existing.Source, in.Source)
	set("status", existing.Status, in.Status)
	set("raw_data", existing.RawData, in.RawData)

	// enrichment flags: true sticks
	if in.Verified && !existing.Verified {
		updates["verified"] = 1
	}
	if in.Enriched && !existing.Enriched {
		updates["enriched"] = 1
		updates["needs_enrichment"] = 0
	}

	// timestamps take the incoming (newer) value
	if in.ScrapedAt != "" && in.ScrapedAt != existing.ScrapedAt {
		updates["scraped_at"] = in.ScrapedAt
	}
	if in.EnrichedAt != "" && in.EnrichedAt != existing.EnrichedAt {
		updates["enriched_at"] = in.EnrichedAt
	}

	return updates
}
