package form

import "errors"

var (
	ErrComparatorNotSupported       = errors.New("quantity comparators are not supported")
	ErrUnitMismatch                 = errors.New("quantity unit does not match the item's units")
	ErrUnsupportedNestedAnswerItems = errors.New("nested items under more than one answer are not supported")
	ErrInvalidResponse              = errors.New("invalid questionnaire response")
)

// MessageKind classifies an item message.
type MessageKind string

const (
	KindError   MessageKind = "error"
	KindWarning MessageKind = "warning"
	KindInfo    MessageKind = "info"
)

// Message IDs.
const (
	MsgComparatorInQuantity         = "comparatorInQuantity"
	MsgNonMatchingQuantityUnit      = "nonMatchingQuantityUnit"
	MsgAnswerValueSetLoadingError   = "answerValueSetLoadingError"
	MsgUnsupportedNestedAnswerItems = "unsupportedNestedAnswerItems"
	MsgNotOnList                    = "answerNotOnList"
)

// Message sources. Messages from one source replace each other.
const (
	SourceMerge          = "mergeQuestionnaireResponse"
	SourceFHIRValues     = "processFHIRValues"
	SourceDefaultAnswers = "default answers"
	SourceValueSets      = "loadAnswerValueSets"
)

var messageTexts = map[string]string{
	MsgComparatorInQuantity:         "A comparator in a quantity value is not supported.",
	MsgNonMatchingQuantityUnit:      "The unit of the quantity value does not match any of the units of the item.",
	MsgAnswerValueSetLoadingError:   "Unable to load the answer list for this item.",
	MsgUnsupportedNestedAnswerItems: "Nested items under more than one answer are not supported; only the value was imported.",
	MsgNotOnList:                    "The value is not one of the answers in the list.",
}

// Message is a diagnostic attached to an item.
type Message struct {
	Source   string      `json:"source"`
	Kind     MessageKind `json:"kind"`
	ID       string      `json:"id"`
	Severity string      `json:"severity"`
	Text     string      `json:"text"`
}

// NewMessage builds a message with the standard text for id. detail, when
// non-empty, is appended.
func NewMessage(kind MessageKind, id, detail string) Message {
	text := messageTexts[id]
	if detail != "" {
		if text != "" {
			text += " "
		}
		text += detail
	}
	return Message{Kind: kind, ID: id, Severity: severityFor(kind), Text: text}
}

func severityFor(k MessageKind) string {
	switch k {
	case KindError:
		return "error"
	case KindWarning:
		return "warning"
	default:
		return "information"
	}
}

// SetMessages replaces the messages from source with msgs.
func (i *Item) SetMessages(source string, msgs ...Message) {
	kept := i.Messages[:0:0]
	for _, m := range i.Messages {
		if m.Source != source {
			kept = append(kept, m)
		}
	}
	for _, m := range msgs {
		m.Source = source
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		kept = nil
	}
	i.Messages = kept
}

// NotOnListMessages returns one warning per off-list answer held by v, which
// is an item value or default answer.
func NotOnListMessages(v any) []Message {
	switch val := v.(type) {
	case *Answer:
		if !val.NotOnList {
			return nil
		}
		label := val.Text
		if label == "" {
			label = val.Code
		}
		return []Message{NewMessage(KindWarning, MsgNotOnList, "("+label+")")}
	case []any:
		var out []Message
		for _, e := range val {
			out = append(out, NotOnListMessages(e)...)
		}
		return out
	}
	return nil
}

// MessagesFrom returns the messages recorded under source.
func (i *Item) MessagesFrom(source string) []Message {
	var out []Message
	for _, m := range i.Messages {
		if m.Source == source {
			out = append(out, m)
		}
	}
	return out
}

// messageForError maps a domain error to its item message.
func messageForError(err error) Message {
	switch {
	case errors.Is(err, ErrComparatorNotSupported):
		return NewMessage(KindError, MsgComparatorInQuantity, "")
	case errors.Is(err, ErrUnitMismatch):
		return NewMessage(KindError, MsgNonMatchingQuantityUnit, "")
	case errors.Is(err, ErrUnsupportedNestedAnswerItems):
		return NewMessage(KindWarning, MsgUnsupportedNestedAnswerItems, "")
	default:
		return NewMessage(KindError, "", err.Error())
	}
}
