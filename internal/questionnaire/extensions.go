package questionnaire

import (
	"strconv"

	"github.com/ehr/formimport/internal/form"
)

const (
	URLMinOccurs         = "http://hl7.org/fhir/StructureDefinition/questionnaire-minOccurs"
	URLMaxOccurs         = "http://hl7.org/fhir/StructureDefinition/questionnaire-maxOccurs"
	URLItemControl       = "http://hl7.org/fhir/StructureDefinition/questionnaire-itemControl"
	URLUnit              = "http://hl7.org/fhir/StructureDefinition/questionnaire-unit"
	URLUnitOption        = "http://hl7.org/fhir/StructureDefinition/questionnaire-unitOption"
	URLOptionPrefix      = "http://hl7.org/fhir/StructureDefinition/questionnaire-optionPrefix"
	URLMinValue          = "http://hl7.org/fhir/StructureDefinition/minValue"
	URLMaxValue          = "http://hl7.org/fhir/StructureDefinition/maxValue"
	URLMinLength         = "http://hl7.org/fhir/StructureDefinition/minLength"
	URLRegex             = "http://hl7.org/fhir/StructureDefinition/regex"
	URLMaxDecimalPlaces  = "http://hl7.org/fhir/StructureDefinition/maxDecimalPlaces"
	URLAnswerRepeats     = "http://hl7.org/fhir/StructureDefinition/questionnaire-answerRepeats"
	URLExternallyDefined = "http://lhcforms.nlm.nih.gov/fhir/StructureDefinition/questionnaire-externallydefined"
	URLExternallyDefOld  = "http://hl7.org/fhir/StructureDefinition/questionnaire-externallydefined"
	URLArgonautScore     = "http://fhir.org/guides/argonaut-questionnaire/StructureDefinition/extension-score"
	URLHidden            = "http://hl7.org/fhir/StructureDefinition/questionnaire-hidden"
	URLTerminologyServer = "http://hl7.org/fhir/StructureDefinition/preferredTerminologyServer"
	URLTermServerSDC     = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-preferredTerminologyServer"
	URLTermServerOld     = "http://hl7.org/fhir/StructureDefinition/terminology-server"
	URLDataControl       = "http://lhcforms.nlm.nih.gov/fhirExt/dataControl"
	URLChoiceOrientation = "http://hl7.org/fhir/StructureDefinition/questionnaire-choiceOrientation"
	URLMaxSize           = "http://hl7.org/fhir/StructureDefinition/maxSize"
	URLMimeType          = "http://hl7.org/fhir/StructureDefinition/mimeType"
	URLInitialExpression = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-initialExpression"
	URLInitialExprOld    = "http://hl7.org/fhir/StructureDefinition/questionnaire-initialExpression"
	URLUnitOpen          = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-unitOpen"
	URLUnitSuppSystem    = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-unitSupplementalSystem"
	URLEntryFormat       = "http://hl7.org/fhir/StructureDefinition/entryFormat"
	URLOrdinalValueSTU3  = "http://hl7.org/fhir/StructureDefinition/questionnaire-ordinalValue"
	URLOrdinalValue      = "http://hl7.org/fhir/StructureDefinition/ordinalValue"
	URLItemWeight        = "http://hl7.org/fhir/StructureDefinition/itemWeight"
)

// extKind identifies an extension the converter knows about.
type extKind int

const (
	extMinOccurs extKind = iota + 1
	extMaxOccurs
	extItemControl
	extUnit
	extUnitOption
	extOptionPrefix
	extMinValue
	extMaxValue
	extMinLength
	extRegex
	extMaxDecimalPlaces
	extAnswerRepeats
	extArgonautScore
	extHidden
	extTerminologyServer
	extTerminologyServerDeprecated
	extDataControl
	extChoiceOrientation
	extMaxSize
	extMimeType
	extInitialExpressionOld
	extUnitOpen
	extUnitSuppSystem
	extExternallyDefined
	extEntryFormat
)

var extKinds = map[string]extKind{
	URLMinOccurs:         extMinOccurs,
	URLMaxOccurs:         extMaxOccurs,
	URLItemControl:       extItemControl,
	URLUnit:              extUnit,
	URLUnitOption:        extUnitOption,
	URLOptionPrefix:      extOptionPrefix,
	URLMinValue:          extMinValue,
	URLMaxValue:          extMaxValue,
	URLMinLength:         extMinLength,
	URLRegex:             extRegex,
	URLMaxDecimalPlaces:  extMaxDecimalPlaces,
	URLAnswerRepeats:     extAnswerRepeats,
	URLArgonautScore:     extArgonautScore,
	URLHidden:            extHidden,
	URLTerminologyServer: extTerminologyServer,
	URLTermServerSDC:     extTerminologyServerDeprecated,
	URLTermServerOld:     extTerminologyServerDeprecated,
	URLDataControl:       extDataControl,
	URLChoiceOrientation: extChoiceOrientation,
	URLMaxSize:           extMaxSize,
	URLMimeType:          extMimeType,
	URLInitialExprOld:    extInitialExpressionOld,
	URLUnitOpen:          extUnitOpen,
	URLUnitSuppSystem:    extUnitSuppSystem,
	URLExternallyDefined: extExternallyDefined,
	URLExternallyDefOld:  extExternallyDefined,
	URLEntryFormat:       extEntryFormat,
}

// extHandler maps one extension onto the item. A nil apply means the
// extension is read by a dedicated step (units, restrictions, cardinality).
// keep copies the extension, possibly rewritten by apply, onto the item.
type extHandler struct {
	apply func(item *form.Item, ext *form.Extension)
	keep  bool
}

var extHandlers = map[extKind]extHandler{
	extMinOccurs:         {},
	extMaxOccurs:         {},
	extUnit:              {},
	extUnitOption:        {},
	extOptionPrefix:      {},
	extMinValue:          {},
	extMaxValue:          {},
	extMinLength:         {},
	extRegex:             {},
	extMaxDecimalPlaces:  {},
	extAnswerRepeats:     {},
	extArgonautScore:     {},
	extDataControl:       {},
	extChoiceOrientation: {},

	extItemControl: {apply: func(item *form.Item, ext *form.Extension) {
		if ext.ValueCodeableConcept == nil || len(ext.ValueCodeableConcept.Coding) == 0 {
			return
		}
		switch ext.ValueCodeableConcept.Coding[0].Code {
		case "autocomplete", "Lookup", "Combo-box":
			item.IsSearchAutocomplete = true
		}
	}},
	extHidden: {apply: func(item *form.Item, ext *form.Extension) {
		switch {
		case ext.ValueBoolean != nil:
			item.Hidden = *ext.ValueBoolean
		case ext.ValueString != nil:
			item.Hidden = *ext.ValueString == "true"
		}
	}},

	extTerminologyServer:           {apply: setTerminologyServer},
	extTerminologyServerDeprecated: {apply: setTerminologyServer},

	extMaxSize: {apply: func(item *form.Item, ext *form.Extension) {
		switch {
		case ext.ValueDecimal != nil:
			item.MaxAttachmentSize = int64(*ext.ValueDecimal)
		case ext.ValueInteger != nil:
			item.MaxAttachmentSize = *ext.ValueInteger
		}
	}},
	extMimeType: {apply: func(item *form.Item, ext *form.Extension) {
		if ext.ValueCode != nil {
			item.AllowedAttachmentTypes = append(item.AllowedAttachmentTypes, *ext.ValueCode)
		}
	}},
	extInitialExpressionOld: {keep: true, apply: func(item *form.Item, ext *form.Extension) {
		ext.URL = URLInitialExpression
	}},
	extUnitOpen: {apply: func(item *form.Item, ext *form.Extension) {
		if ext.ValueCode != nil {
			item.UnitOpen = form.AnswerConstraint(*ext.ValueCode)
		}
	}},
	extUnitSuppSystem: {apply: func(item *form.Item, ext *form.Extension) {
		if s := firstString(ext.ValueCanonical, ext.ValueURI, ext.ValueString); s != "" {
			item.UnitSuppSystem = s
		}
	}},
	extExternallyDefined: {apply: func(item *form.Item, ext *form.Extension) {
		if ext.ValueURI != nil {
			item.ExternallyDefined = *ext.ValueURI
		}
	}},
	extEntryFormat: {apply: func(item *form.Item, ext *form.Extension) {
		if ext.ValueString != nil {
			item.EntryFormat = *ext.ValueString
		}
	}, keep: true},
}

func setTerminologyServer(item *form.Item, ext *form.Extension) {
	if s := firstString(ext.ValueURL, ext.ValueURI); s != "" {
		item.TerminologyServer = s
	}
}

func firstString(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

// applyExtensions runs the handlers for exts and returns the extensions to
// keep on the item: those without a handler, and those whose handler asks
// for it.
func applyExtensions(item *form.Item, exts []form.Extension) []form.Extension {
	var kept []form.Extension
	for _, e := range exts {
		ext := e
		kind, known := extKinds[ext.URL]
		if !known {
			kept = append(kept, ext)
			continue
		}
		h := extHandlers[kind]
		if h.apply != nil {
			h.apply(item, &ext)
		}
		if h.keep {
			kept = append(kept, ext)
		}
	}
	return kept
}

// optionScore reads the score of an answer option from whichever ordinal
// extension it carries.
func optionScore(exts []form.Extension) *float64 {
	for _, url := range []string{URLItemWeight, URLOrdinalValue, URLOrdinalValueSTU3, URLArgonautScore} {
		ext := findExtension(exts, url)
		if ext == nil {
			continue
		}
		switch {
		case ext.ValueDecimal != nil:
			v := *ext.ValueDecimal
			return &v
		case ext.ValueInteger != nil:
			v := float64(*ext.ValueInteger)
			return &v
		}
	}
	return nil
}

// restrictionValue returns the valueX of a min/max extension.
func restrictionValue(ext *form.Extension) any {
	switch {
	case ext.ValueInteger != nil:
		return *ext.ValueInteger
	case ext.ValueDecimal != nil:
		return *ext.ValueDecimal
	case ext.ValueDate != nil:
		return *ext.ValueDate
	case ext.ValueDateTime != nil:
		return *ext.ValueDateTime
	case ext.ValueTime != nil:
		return *ext.ValueTime
	case ext.ValueString != nil:
		return *ext.ValueString
	case ext.ValueQuantity != nil:
		return ext.ValueQuantity.Value
	}
	return nil
}

func intValue(ext *form.Extension) (int, bool) {
	switch {
	case ext.ValueInteger != nil:
		return int(*ext.ValueInteger), true
	case ext.ValueDecimal != nil:
		return int(*ext.ValueDecimal), true
	case ext.ValueString != nil:
		n, err := strconv.Atoi(*ext.ValueString)
		return n, err == nil
	}
	return 0, false
}
