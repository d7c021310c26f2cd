package embedding

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/kalambet/jobmatch/internal/storage"
)

// JobText is the text embedded for a job: its requirements and nice-to-have
// skills. Empty parts are omitted; an empty result means no embedding.
func JobText(j storage.Job) string {
	return compose(
		part{"Requirements", j.Requirements},
		part{"Nice to have", j.NiceToHave},
	)
}

// CandidateText is the text embedded for a candidate profile.
func CandidateText(c storage.Candidate) string {
	return compose(
		part{"Skills", c.Skills},
		part{"Major", c.Major},
		part{"Experiences", c.Experiences},
		part{"Projects", c.Projects},
		part{"Certifications", c.Certifications},
		part{"Resume", c.ResumeText},
	)
}

type part struct {
	label, value string
}

func compose(parts ...part) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := StripHTML(p.value)
		if v == "" {
			continue
		}
		out = append(out, p.label+": "+v)
	}
	return strings.Join(out, ". ")
}

// StripHTML returns the visible text of s with markup removed, entities
// decoded and whitespace collapsed. Plain text passes through unchanged apart
// from whitespace.
func StripHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way keep what was collected.
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}
