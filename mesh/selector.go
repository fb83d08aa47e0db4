package mesh

import "strings"

// TagOp is one parsed element of a ToolSpec.Tags or Selector.Tags list: a
// bare required tag, a preferred (+tag) tag, a hard-excluded (-tag) tag, or
// an ordered alternative group ((a|b|+c)).
type TagOp struct {
	// Kind is one of "required", "preferred", "excluded", "group".
	Kind string
	// Tag is the bare tag name for required/preferred/excluded kinds.
	Tag string
	// Alternatives holds the ordered alternatives for a "group" kind. Each
	// alternative's Preferred flag reflects a leading "+" inside the group.
	Alternatives []GroupAlt
}

// GroupAlt is one alternative inside an ordered "(a|b|+c)" tag slot.
type GroupAlt struct {
	Tag       string
	Preferred bool
}

// ParseTags parses a ToolSpec/Selector tag list into its operator form. The
// syntax (spec §3) is: bare tag = required, "+tag" = preferred (scoring
// bonus), "-tag" = hard exclude, "(a|b|+c)" = an ordered alternative group.
func ParseTags(tags []string) []TagOp {
	ops := make([]TagOp, 0, len(tags))
	for _, raw := range tags {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}
		switch {
		case strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")"):
			inner := t[1 : len(t)-1]
			parts := strings.Split(inner, "|")
			alts := make([]GroupAlt, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				pref := strings.HasPrefix(p, "+")
				alts = append(alts, GroupAlt{Tag: strings.TrimPrefix(p, "+"), Preferred: pref})
			}
			ops = append(ops, TagOp{Kind: "group", Alternatives: alts})
		case strings.HasPrefix(t, "+"):
			ops = append(ops, TagOp{Kind: "preferred", Tag: strings.TrimPrefix(t, "+")})
		case strings.HasPrefix(t, "-"):
			ops = append(ops, TagOp{Kind: "excluded", Tag: strings.TrimPrefix(t, "-")})
		default:
			ops = append(ops, TagOp{Kind: "required", Tag: t})
		}
	}
	return ops
}

// hasTag reports whether plain (untagged) candidate tags contain t.
func hasTag(candidateTags []string, t string) bool {
	for _, ct := range candidateTags {
		if ct == t {
			return true
		}
	}
	return false
}

// Matches reports whether a candidate's plain tag list satisfies every
// required/excluded/group constraint in ops, and returns the scoring bonus
// accrued from preferred tags and satisfied group preferences. Inside a
// group, a "-tag" alternative rejects any candidate carrying that tag; the
// group is satisfied by the first other alternative the candidate carries.
func Matches(ops []TagOp, candidateTags []string) (ok bool, bonus float64) {
	for _, op := range ops {
		switch op.Kind {
		case "required":
			if !hasTag(candidateTags, op.Tag) {
				return false, 0
			}
		case "excluded":
			if hasTag(candidateTags, op.Tag) {
				return false, 0
			}
		case "preferred":
			if hasTag(candidateTags, op.Tag) {
				bonus += preferredBonus
			}
		case "group":
			matched := false
			for _, alt := range op.Alternatives {
				if excluded, ok := strings.CutPrefix(alt.Tag, "-"); ok {
					if hasTag(candidateTags, excluded) {
						return false, 0
					}
					continue
				}
				if !matched && hasTag(candidateTags, alt.Tag) {
					matched = true
					if alt.Preferred {
						bonus += preferredBonus
					}
				}
			}
			if !matched {
				return false, 0
			}
		}
	}
	return true, bonus
}

const preferredBonus = 1.0
