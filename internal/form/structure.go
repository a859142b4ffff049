package form

// structuralInfo describes one response item, or one instance of a repeating
// question, at a level of the response tree.
type structuralInfo struct {
	linkID string
	// index among response entries sharing linkID at this level
	index int
	// size of the linkID group, fixed when the level is built
	total int
	// total was taken from the answer count of a single response item
	fromAnswers bool

	answers  []ResponseAnswer
	children []*structuralInfo
	// aligned with answers; nil where the answer has no nested items
	answerChildren []*structuralInfo
}

// buildLevel builds the infos of one level of response items.
func buildLevel(items []ResponseItem) []*structuralInfo {
	if len(items) == 0 {
		return nil
	}
	counts := make(map[string]int, len(items))
	for _, it := range items {
		counts[it.LinkID]++
	}

	seen := make(map[string]int, len(counts))
	infos := make([]*structuralInfo, 0, len(items))
	for _, it := range items {
		info := &structuralInfo{
			linkID:   it.LinkID,
			index:    seen[it.LinkID],
			total:    counts[it.LinkID],
			answers:  it.Answer,
			children: buildLevel(it.Item),
		}
		seen[it.LinkID]++

		// a single response item holding several answers may stand for a
		// repeating question
		if info.total == 1 && len(it.Answer) > 1 {
			info.total = len(it.Answer)
			info.fromAnswers = true
		}

		withItems := 0
		answerChildren := make([]*structuralInfo, len(it.Answer))
		for i, a := range it.Answer {
			if len(a.Item) > 0 {
				answerChildren[i] = &structuralInfo{linkID: it.LinkID, children: buildLevel(a.Item)}
				withItems++
			}
		}
		if withItems > 0 {
			info.answerChildren = answerChildren
		}
		infos = append(infos, info)
	}
	return infos
}

// split returns the info for the j-th answer of a single response item that
// turned out to hold the instances of a repeating question.
func (s *structuralInfo) split(j int) *structuralInfo {
	out := &structuralInfo{
		linkID:   s.linkID,
		index:    j,
		total:    s.total,
		answers:  []ResponseAnswer{s.answers[j]},
		children: s.children,
	}
	if j < len(s.answerChildren) && s.answerChildren[j] != nil {
		out.answerChildren = []*structuralInfo{s.answerChildren[j]}
	}
	return out
}

// nestedAnswerInfos returns the non-nil answer-children infos.
func (s *structuralInfo) nestedAnswerInfos() []*structuralInfo {
	var out []*structuralInfo
	for _, a := range s.answerChildren {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// findByLinkID returns the first item with linkID.
func findByLinkID(items []*Item, linkID string) *Item {
	return findByLinkIDAndIndex(items, linkID, 0)
}

// findByLinkIDAndIndex returns the index-th item with linkID.
func findByLinkIDAndIndex(items []*Item, linkID string, index int) *Item {
	n := 0
	for _, it := range items {
		if it.LinkID != linkID {
			continue
		}
		if n == index {
			return it
		}
		n++
	}
	return nil
}

// addRepeats makes sure items holds total instances of linkID, cloning the
// first instance and inserting the copies after the last existing one.
func addRepeats(items []*Item, parent *Item, linkID string, total int) []*Item {
	var (
		proto *Item
		last  = -1
		have  int
	)
	for i, it := range items {
		if it.LinkID == linkID {
			if proto == nil {
				proto = it
			}
			last = i
			have++
		}
	}
	if proto == nil || have >= total {
		return items
	}

	copies := make([]*Item, 0, total-have)
	for i := have; i < total; i++ {
		copies = append(copies, proto.cloneEmpty(parent))
	}
	out := make([]*Item, 0, len(items)+len(copies))
	out = append(out, items[:last+1]...)
	out = append(out, copies...)
	out = append(out, items[last+1:]...)
	return out
}

// cloneEmpty copies the definition of an item without its value, unit or
// messages. Answer and unit entries are shared with the original.
func (i *Item) cloneEmpty(parent *Item) *Item {
	c := *i
	c.parent = parent
	c.Value = nil
	c.Unit = nil
	c.Messages = nil
	if i.Answers != nil {
		c.Answers = append([]*Answer(nil), i.Answers...)
	}
	if i.Units != nil {
		c.Units = append([]*Unit(nil), i.Units...)
	}
	if i.Extension != nil {
		c.Extension = append([]Extension(nil), i.Extension...)
	}
	c.Items = nil
	for _, child := range i.Items {
		c.Items = append(c.Items, child.cloneEmpty(&c))
	}
	return &c
}
