package fhir

// Extension URLs read from value set documents.
const (
	ExtRenderingXHTML = "http://hl7.org/fhir/StructureDefinition/rendering-xhtml"
	ExtOrdinalValue   = "http://hl7.org/fhir/StructureDefinition/ordinalValue"
	ExtItemWeight     = "http://hl7.org/fhir/StructureDefinition/itemWeight"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Extension struct {
	URL          string   `json:"url"`
	ValueString  *string  `json:"valueString,omitempty"`
	ValueCode    *string  `json:"valueCode,omitempty"`
	ValueDecimal *float64 `json:"valueDecimal,omitempty"`
	ValueInteger *int64   `json:"valueInteger,omitempty"`
	ValueCoding  *Coding  `json:"valueCoding,omitempty"`
}

// Element carries the extensions of a primitive, e.g. _display.
type Element struct {
	Extension []Extension `json:"extension,omitempty"`
}

// FindExtension returns the first extension with url.
func FindExtension(exts []Extension, url string) (Extension, bool) {
	for _, e := range exts {
		if e.URL == url {
			return e, true
		}
	}
	return Extension{}, false
}

// ValueSet is the subset of a FHIR ValueSet used for answer lists.
type ValueSet struct {
	ResourceType string             `json:"resourceType"`
	ID           string             `json:"id,omitempty"`
	URL          string             `json:"url,omitempty"`
	Version      string             `json:"version,omitempty"`
	Name         string             `json:"name,omitempty"`
	Title        string             `json:"title,omitempty"`
	Status       string             `json:"status,omitempty"`
	Compose      *ValueSetCompose   `json:"compose,omitempty"`
	Expansion    *ValueSetExpansion `json:"expansion,omitempty"`
}

type ValueSetCompose struct {
	Include []ValueSetInclude `json:"include,omitempty"`
}

type ValueSetInclude struct {
	System  string            `json:"system,omitempty"`
	Version string            `json:"version,omitempty"`
	Concept []ValueSetConcept `json:"concept,omitempty"`
}

type ValueSetConcept struct {
	Code           string      `json:"code"`
	Display        string      `json:"display,omitempty"`
	DisplayElement *Element    `json:"_display,omitempty"`
	Extension      []Extension `json:"extension,omitempty"`
}

// ValueSetExpansion is the result of a $expand operation.
type ValueSetExpansion struct {
	Identifier string             `json:"identifier,omitempty"`
	Timestamp  string             `json:"timestamp,omitempty"`
	Total      *int               `json:"total,omitempty"`
	Offset     int                `json:"offset,omitempty"`
	Contains   []ValueSetContains `json:"contains,omitempty"`
}

// ValueSetContains represents a concept within an expanded ValueSet.
type ValueSetContains struct {
	System         string             `json:"system,omitempty"`
	Version        string             `json:"version,omitempty"`
	Code           string             `json:"code,omitempty"`
	Display        string             `json:"display,omitempty"`
	DisplayElement *Element           `json:"_display,omitempty"`
	Abstract       bool               `json:"abstract,omitempty"`
	Inactive       bool               `json:"inactive,omitempty"`
	Extension      []Extension        `json:"extension,omitempty"`
	Contains       []ValueSetContains `json:"contains,omitempty"`
}

// RenderingXHTML returns the rich-text display of the concept, if any.
func (c ValueSetContains) RenderingXHTML() string {
	if c.DisplayElement == nil {
		return ""
	}
	if ext, ok := FindExtension(c.DisplayElement.Extension, ExtRenderingXHTML); ok && ext.ValueString != nil {
		return *ext.ValueString
	}
	return ""
}

// Score returns the ordinal value or item weight of the concept.
func (c ValueSetContains) Score() (float64, bool) {
	for _, url := range []string{ExtItemWeight, ExtOrdinalValue} {
		ext, ok := FindExtension(c.Extension, url)
		if !ok {
			continue
		}
		switch {
		case ext.ValueDecimal != nil:
			return *ext.ValueDecimal, true
		case ext.ValueInteger != nil:
			return float64(*ext.ValueInteger), true
		}
	}
	return 0, false
}

// CopyComposeDisplays copies the _display of compose concepts onto the
// matching expansion entries. Servers drop it when expanding a posted value
// set.
func (vs *ValueSet) CopyComposeDisplays() {
	if vs.Expansion == nil || vs.Compose == nil {
		return
	}
	for i := range vs.Expansion.Contains {
		entry := &vs.Expansion.Contains[i]
		for _, inc := range vs.Compose.Include {
			if inc.System != entry.System {
				continue
			}
			for _, concept := range inc.Concept {
				if concept.Code == entry.Code && concept.DisplayElement != nil {
					entry.DisplayElement = concept.DisplayElement
				}
			}
			break
		}
	}
}
