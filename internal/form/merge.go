package form

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Merger merges QuestionnaireResponse data into a form tree.
//
// A merge mutates the tree it is given and must not run concurrently with
// another merge on the same tree.
type Merger struct {
	conv   *ValueConverter
	logger zerolog.Logger
}

// NewMerger returns a Merger that assigns values through conv.
func NewMerger(conv *ValueConverter, logger zerolog.Logger) *Merger {
	return &Merger{conv: conv, logger: logger}
}

// MergeResponse merges qr into f. Items of a repeating question are added to
// the tree as needed; the nth response occurrence of a linkId goes to the nth
// item instance. Mismatched values are reported as item messages and do not
// stop the merge.
func (m *Merger) MergeResponse(f *Form, qr *QuestionnaireResponse) error {
	if f == nil {
		return fmt.Errorf("%w: nil form", ErrInvalidResponse)
	}
	if qr == nil {
		return fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if qr.ResourceType != "" && qr.ResourceType != "QuestionnaireResponse" {
		return fmt.Errorf("%w: unexpected resourceType %q", ErrInvalidResponse, qr.ResourceType)
	}

	f.LinkParents()
	f.Items = m.mergeLevel(buildLevel(qr.Item), f.Items, nil)
	return nil
}

// mergeLevel merges one level of infos into items, whose parent is parent,
// and returns the possibly extended item list.
func (m *Merger) mergeLevel(infos []*structuralInfo, items []*Item, parent *Item) []*Item {
	seq, items := m.expand(infos, items, parent)

	for _, info := range seq {
		target := findByLinkIDAndIndex(items, info.linkID, info.index)
		if target == nil {
			m.logger.Debug().
				Str("link_id", info.linkID).
				Int("index", info.index).
				Msg("no form item for response item")
			continue
		}

		if !target.DataType.Structural() && len(info.answers) > 0 {
			msgs := m.conv.assignResponse(target, info.answers)
			nested := info.nestedAnswerInfos()
			switch {
			case len(nested) > 1:
				msgs = append(msgs, messageForError(ErrUnsupportedNestedAnswerItems))
			case len(nested) == 1:
				target.Items = m.mergeLevel(nested[0].children, target.Items, target)
			}
			target.SetMessages(SourceMerge, msgs...)
		}

		if len(info.children) > 0 {
			target.Items = m.mergeLevel(info.children, target.Items, target)
		}
	}
	return items
}

// expand resolves repetition for one level before anything is assigned. It
// returns the traversal sequence and the item list with repeats added.
func (m *Merger) expand(infos []*structuralInfo, items []*Item, parent *Item) ([]*structuralInfo, []*Item) {
	seq := make([]*structuralInfo, 0, len(infos))
	absorbed := make(map[*structuralInfo]bool)

	for _, info := range infos {
		if absorbed[info] {
			continue
		}
		if info.total <= 1 || info.index != 0 {
			seq = append(seq, info)
			continue
		}

		def := findByLinkID(items, info.linkID)
		switch {
		case def == nil:
			seq = append(seq, info)

		case def.QuestionRepeats():
			items = addRepeats(items, parent, info.linkID, info.total)
			if !info.fromAnswers || def.DataType.Structural() {
				seq = append(seq, info)
				continue
			}
			for j := range info.answers {
				seq = append(seq, info.split(j))
			}

		case def.AnswerRepeats():
			merged := *info
			merged.total = 1
			if !info.fromAnswers {
				merged.answers = append([]ResponseAnswer(nil), info.answers...)
				for _, other := range infos {
					if other == info || other.linkID != info.linkID {
						continue
					}
					merged.answers = append(merged.answers, other.answers...)
					merged.children = append(merged.children, other.children...)
					merged.answerChildren = append(merged.answerChildren, other.answerChildren...)
					absorbed[other] = true
				}
			}
			seq = append(seq, &merged)

		default:
			seq = append(seq, info)
		}
	}
	return seq, items
}
