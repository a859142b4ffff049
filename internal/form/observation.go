package form

// observationValue picks the value of obs that fits the item's data type.
// Observations carry coded values as CodeableConcept, and numeric items also
// accept a Quantity.
func observationValue(dt DataType, obs Observation) (TypedValue, bool) {
	var v TypedValue
	switch dt {
	case TypeBoolean:
		v.ValueBoolean = obs.ValueBoolean
	case TypeInteger:
		v.ValueInteger = obs.ValueInteger
	case TypeReal:
		v.ValueDecimal = obs.ValueDecimal
	case TypeQuantity:
		v.ValueQuantity = obs.ValueQuantity
	case TypeDate:
		v.ValueDate = obs.ValueDate
	case TypeDateTime:
		v.ValueDateTime = obs.ValueDateTime
	case TypeTime:
		v.ValueTime = obs.ValueTime
	case TypeString, TypeText:
		v.ValueString = obs.ValueString
	case TypeCoding:
		v.ValueCodeableConcept = obs.ValueCodeableConcept
	case TypeAttachment:
		v.ValueAttachment = obs.ValueAttachment
	case TypeURL:
		v.ValueURI = obs.ValueURI
	case TypeReference:
		v.ValueReference = obs.ValueReference
	}
	if v.IsZero() && (dt == TypeReal || dt == TypeInteger) {
		v.ValueQuantity = obs.ValueQuantity
	}
	return v, !v.IsZero()
}

// ImportObservationValue assigns the value of obs to item and reports whether
// it did. A quantity whose unit cannot be reconciled with the item's units is
// not imported.
func (c *ValueConverter) ImportObservationValue(item *Item, obs Observation) bool {
	v, ok := observationValue(item.DataType, obs)
	if !ok {
		return false
	}
	if v.ValueQuantity != nil && len(item.Units) > 0 {
		if _, _, err := c.Units.Reconcile(item, *v.ValueQuantity); err != nil {
			return false
		}
	}
	c.ProcessValues(item, []TypedValue{v}, false)
	return true
}
