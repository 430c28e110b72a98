package airsync

import (
	"fmt"

	"leadflow-engine/internal/store"
)

// Airtable column names. Declared once; changing the base schema means
// changing this table and nothing else.
const (
	fieldFullName    = "Full Name"
	fieldEmail       = "Email"
	fieldCompany     = "Company"
	fieldTitle       = "Job Title"
	fieldLinkedIn    = "LinkedIn URL"
	fieldLocation    = "Location"
	fieldIndustry    = "Industry"
	fieldCompanySize = "Company Size"
	fieldSource      = "Source"
	fieldStatus      = "Status"
	fieldVerified    = "Verified"
	fieldEnriched    = "Enriched"
	fieldScrapedAt   = "Date Scraped"
	fieldEnrichedAt  = "Date Enriched"
	fieldLocalUpdate = "Last Local Update"
	fieldModified    = "Last Modified"
)

// leadFields formats a lead into the external schema. Empty values are
// omitted so a push never blanks a column a human filled in by hand.
func leadFields(l store.Lead) map[string]any {
	f := make(map[string]any)
	put := func(k, v string) {
		if v != "" {
			f[k] = v
		}
	}
	put(fieldFullName, l.FullName)
	put(fieldEmail, l.Email)
	put(fieldCompany, l.Company)
	put(fieldTitle, l.Title)
	put(fieldLinkedIn, l.LinkedInURL)
	put(fieldLocation, l.Location)
	put(fieldIndustry, l.Industry)
	put(fieldCompanySize, l.CompanySize)
	put(fieldSource, l.Source)
	put(fieldStatus, l.Status)
	put(fieldScrapedAt, l.ScrapedAt)
	put(fieldEnrichedAt, l.EnrichedAt)
	put(fieldLocalUpdate, l.UpdatedAt)
	f[fieldVerified] = l.Verified
	f[fieldEnriched] = l.Enriched
	return f
}

func fieldString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func fieldBool(fields map[string]any, key string) bool {
	v, ok := fields[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// remoteInput maps a pulled record into lead input for local creation.
func remoteInput(fields map[string]any) store.LeadInput {
	return store.LeadInput{
		FullName:    fieldString(fields, fieldFullName),
		Email:       fieldString(fields, fieldEmail),
		Company:     fieldString(fields, fieldCompany),
		Title:       fieldString(fields, fieldTitle),
		LinkedInURL: fieldString(fields, fieldLinkedIn),
		Location:    fieldString(fields, fieldLocation),
		Industry:    fieldString(fields, fieldIndustry),
		CompanySize: fieldString(fields, fieldCompanySize),
		Source:      fieldString(fields, fieldSource),
		Status:      fieldString(fields, fieldStatus),
		Verified:    fieldBool(fields, fieldVerified),
		Enriched:    fieldBool(fields, fieldEnriched),
		ScrapedAt:   fieldString(fields, fieldScrapedAt),
		EnrichedAt:  fieldString(fields, fieldEnrichedAt),
	}
}

// engagementUpdates are the human-edited columns Airtable is authoritative
// for. Used when the local side wins a conflict: enrichment-derived data
// stays local, engagement state still flows in.
func engagementUpdates(fields map[string]any) map[string]any {
	out := make(map[string]any)
	if s := fieldString(fields, fieldStatus); s != "" {
		out["status"] = s
	}
	return out
}

// fullUpdates applies every mapped remote column that carries a value.
func fullUpdates(fields map[string]any) map[string]any {
	out := engagementUpdates(fields)
	set := func(col, v string) {
		if v != "" {
			out[col] = v
		}
	}
	set("full_name", fieldString(fields, fieldFullName))
	set("email", fieldString(fields, fieldEmail))
	set("company", fieldString(fields, fieldCompany))
	set("title", fieldString(fields, fieldTitle))
	set("linkedin_url", fieldString(fields, fieldLinkedIn))
	set("location", fieldString(fields, fieldLocation))
	set("industry", fieldString(fields, fieldIndustry))
	set("company_size", fieldString(fields, fieldCompanySize))
	if fieldBool(fields, fieldVerified) {
		out["verified"] = true
	}
	if fieldBool(fields, fieldEnriched) {
		out["enriched"] = true
	}
	return out
}
