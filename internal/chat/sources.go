package chat

// Source is a web page a reply was grounded on.
type Source struct {
	Title string
	URI   string
}

// Sources is an ordered list of grounding sources.
type Sources []Source

// Merge returns s followed by every source in more whose URI is not already
// present. Sources without a URI are skipped. The receiver is not modified.
func (s Sources) Merge(more Sources) Sources {
	seen := make(map[string]struct{}, len(s)+len(more))
	out := make(Sources, 0, len(s)+len(more))
	for _, src := range s {
		seen[src.URI] = struct{}{}
		out = append(out, src)
	}
	for _, src := range more {
		if src.URI == "" {
			continue
		}
		if _, ok := seen[src.URI]; ok {
			continue
		}
		seen[src.URI] = struct{}{}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
