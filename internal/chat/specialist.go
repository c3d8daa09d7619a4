package chat

import (
	"fmt"
	"regexp"
	"strings"
)

// Specialist is a recommendation card the model writes as
//
//	**Dermatologist**
//	*Expertise:* Specializes in conditions involving the skin, hair, and nails.
//	*Common Conditions:* Rashes, acne, eczema, suspicious moles.
type Specialist struct {
	Name       string
	Expertise  string
	Conditions string
}

// ShareText renders the card as plain text for copying.
func (sp Specialist) ShareText() string {
	return fmt.Sprintf("Specialist Recommendation: %s\n\nExpertise: %s\n\nCommon Conditions: %s\n\n(Consult a qualified healthcare professional for medical advice.)",
		sp.Name, sp.Expertise, sp.Conditions)
}

// Segment is either plain text or a specialist card.
type Segment struct {
	Text       string
	Specialist *Specialist
}

// specialistHead matches a card up to the start of its conditions list. The
// conditions run to the next blank line, the next bold heading or the end of
// the text.
var specialistHead = regexp.MustCompile(`\*\*([^*]+)\*\*\s*\n\*Expertise:\*\s*([\s\S]+?)\s*\n\*Common Conditions:\*\s*`)

// Split breaks a reply into plain text and specialist cards, in order.
// Text with no cards yields a single text segment; empty text yields none.
func Split(text string) []Segment {
	var segs []Segment
	last := 0
	for pos := 0; pos < len(text); {
		loc := specialistHead.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, headEnd := pos+loc[0], pos+loc[1]

		rest := text[headEnd:]
		if rest == "" {
			break
		}
		end := len(rest)
		for _, term := range []string{"\n\n", "\n**"} {
			// The conditions hold at least one character.
			if i := strings.Index(rest[1:], term); i >= 0 && i+1 < end {
				end = i + 1
			}
		}

		if start > last {
			segs = append(segs, Segment{Text: text[last:start]})
		}
		segs = append(segs, Segment{Specialist: &Specialist{
			Name:       strings.TrimSpace(text[pos+loc[2] : pos+loc[3]]),
			Expertise:  strings.TrimSpace(text[pos+loc[4] : pos+loc[5]]),
			Conditions: strings.TrimSpace(rest[:end]),
		}})
		last = headEnd + end
		pos = last
	}
	if last < len(text) {
		segs = append(segs, Segment{Text: text[last:]})
	}
	return segs
}

// Specialists returns only the cards found in text.
func Specialists(text string) []Specialist {
	var out []Specialist
	for _, seg := range Split(text) {
		if seg.Specialist != nil {
			out = append(out, *seg.Specialist)
		}
	}
	return out
}
