package form

// Coding is a code from a code system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a set of alternative codings of one concept.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Quantity is a measured amount.
type Quantity struct {
	Value      float64 `json:"value"`
	Comparator string  `json:"comparator,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	System     string  `json:"system,omitempty"`
	Code       string  `json:"code,omitempty"`
}

// Attachment is content in a format defined elsewhere.
type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	Language    string `json:"language,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Title       string `json:"title,omitempty"`
	Creation    string `json:"creation,omitempty"`
}

// Reference points to another resource.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Extension is a FHIR extension. Only the value types the importer reads are
// modelled.
type Extension struct {
	URL                  string           `json:"url"`
	ValueString          *string          `json:"valueString,omitempty"`
	ValueCode            *string          `json:"valueCode,omitempty"`
	ValueURI             *string          `json:"valueUri,omitempty"`
	ValueURL             *string          `json:"valueUrl,omitempty"`
	ValueCanonical       *string          `json:"valueCanonical,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueInteger         *int64           `json:"valueInteger,omitempty"`
	ValueDecimal         *float64         `json:"valueDecimal,omitempty"`
	ValueDate            *string          `json:"valueDate,omitempty"`
	ValueDateTime        *string          `json:"valueDateTime,omitempty"`
	ValueTime            *string          `json:"valueTime,omitempty"`
	ValueCoding          *Coding          `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueQuantity        *Quantity        `json:"valueQuantity,omitempty"`
	Extension            []Extension      `json:"extension,omitempty"`
}

// TypedValue is the valueX choice shared by response answers, initial values
// and observations. At most one field is set.
type TypedValue struct {
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueDecimal         *float64         `json:"valueDecimal,omitempty"`
	ValueInteger         *int64           `json:"valueInteger,omitempty"`
	ValueDate            *string          `json:"valueDate,omitempty"`
	ValueDateTime        *string          `json:"valueDateTime,omitempty"`
	ValueTime            *string          `json:"valueTime,omitempty"`
	ValueString          *string          `json:"valueString,omitempty"`
	ValueURI             *string          `json:"valueUri,omitempty"`
	ValueAttachment      *Attachment      `json:"valueAttachment,omitempty"`
	ValueCoding          *Coding          `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueQuantity        *Quantity        `json:"valueQuantity,omitempty"`
	ValueReference       *Reference       `json:"valueReference,omitempty"`
}

// IsZero reports whether no value is set.
func (v TypedValue) IsZero() bool {
	return v == TypedValue{}
}

// ResponseAnswer is one answer of a response item, with its nested items.
type ResponseAnswer struct {
	TypedValue
	Item []ResponseItem `json:"item,omitempty"`
}

// ResponseItem is a node of a QuestionnaireResponse.
type ResponseItem struct {
	LinkID string           `json:"linkId"`
	Text   string           `json:"text,omitempty"`
	Answer []ResponseAnswer `json:"answer,omitempty"`
	Item   []ResponseItem   `json:"item,omitempty"`
}

// QuestionnaireResponse is a filled-in form.
type QuestionnaireResponse struct {
	ResourceType  string         `json:"resourceType"`
	ID            string         `json:"id,omitempty"`
	Status        string         `json:"status,omitempty"`
	Questionnaire string         `json:"questionnaire,omitempty"`
	Authored      string         `json:"authored,omitempty"`
	Item          []ResponseItem `json:"item,omitempty"`
}

// Observation carries the fields ImportObservationValue reads.
type Observation struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Code         CodeableConcept `json:"code"`
	TypedValue
}
