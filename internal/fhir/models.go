package fhir

import "strings"

// Bundle represents a FHIR search-set bundle response.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Total        int           `json:"total"`
	Link         []BundleLink  `json:"link"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleLink represents a paging link in a bundle.
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// BundleEntry represents an entry in a FHIR bundle.
type BundleEntry struct {
	FullURL  string                 `json:"fullUrl"`
	Resource map[string]interface{} `json:"resource"`
}

// Resource represents a generic FHIR resource.
type Resource struct {
	ID           string                 `json:"id"`
	ResourceType string                 `json:"resourceType"`
	Data         map[string]interface{} `json:"-"`
}

// ReferenceID extracts the ID from a FHIR reference of the given type.
// "Patient/123" yields "123"; references of another type, or inline
// "urn:uuid:" references, yield "".
func ReferenceID(reference, resourceType string) string {
	if strings.Contains(reference, "/") {
		parts := strings.Split(reference, "/")
		if len(parts) == 2 && parts[0] == resourceType {
			return parts[1]
		}
	}
	return ""
}

// nextLink returns the "next" paging URL of a bundle, or "" when the last
// page has been reached.
func (b *Bundle) nextLink() string {
	for _, link := range b.Link {
		if link.Relation == "next" {
			return link.URL
		}
	}
	return ""
}
