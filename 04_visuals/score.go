package visuals

import (
	"math"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"

	"shorts-pipeline/config"
	"shorts-pipeline/types"
)

var (
	textyFilename = regexp.MustCompile(`(?i)(logo|banner|poster|icon|sprite|avatar|favicon|badge|placeholder|infographic|screenshot)`)
	offTopicTitle = regexp.MustCompile(`(?i)\b(stock|wallpapers?|illustrations?|clip ?art|vectors?|cartoon|mockup|template)\b`)
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "from": true, "by": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "has": true, "have": true, "had": true, "it": true,
	"its": true, "this": true, "that": true, "these": true, "those": true,
	"as": true, "after": true, "before": true, "over": true, "new": true,
	"top": true, "best": true, "most": true, "why": true, "how": true,
	"what": true, "who": true, "you": true, "your": true, "about": true,
	"into": true, "they": true, "their": true, "will": true, "just": true,
}

// Scorer filters and ranks candidates against a topic.
type Scorer struct {
	cfg        config.VisualsConfig
	thumbHosts map[string]bool
}

// NewScorer builds a scorer from the visuals configuration.
func NewScorer(cfg config.VisualsConfig) *Scorer {
	s := &Scorer{cfg: cfg, thumbHosts: make(map[string]bool)}
	for _, h := range cfg.ThumbnailHosts {
		s.thumbHosts[strings.ToLower(h)] = true
	}
	return s
}

// Tokenize lowercases text and splits it into words, dropping stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Terms expands topic tokens into match groups. Each group is satisfied
// by any of its alternatives, so an alias counts once with its keyword.
func (s *Scorer) Terms(topic string) [][]string {
	tokens := Tokenize(topic)
	lowered := " " + strings.Join(tokens, " ") + " "

	var groups [][]string
	for _, t := range tokens {
		group := []string{t}
		group = append(group, s.cfg.Aliases[t]...)
		groups = append(groups, group)
	}
	for key, phrases := range s.cfg.Aliases {
		for _, p := range phrases {
			if strings.Contains(lowered, " "+strings.ToLower(p)+" ") {
				groups = append(groups, append([]string{p}, key))
				break
			}
		}
	}
	return groups
}

// Reject returns a reason when the candidate must not be used at all.
func (s *Scorer) Reject(c Candidate) string {
	if s.thumbHosts[hostOf(c.URL)] {
		return "thumbnail host"
	}
	if u, err := url.Parse(c.URL); err == nil {
		if textyFilename.MatchString(path.Base(u.Path)) {
			return "graphic filename"
		}
	}
	if offTopicTitle.MatchString(c.Title) {
		return "off-topic title"
	}
	return ""
}

// Matches counts the term groups present in the candidate's title and URL.
func (s *Scorer) Matches(c Candidate, terms [][]string) int {
	text := " " + strings.Join(Tokenize(c.Title+" "+urlWords(c.URL)), " ") + " "
	n := 0
	for _, group := range terms {
		for _, alt := range group {
			needle := " " + strings.Join(Tokenize(alt), " ") + " "
			if strings.TrimSpace(needle) != "" && strings.Contains(text, needle) {
				n++
				break
			}
		}
	}
	return n
}

// Score rates a candidate for a target canvas. Higher is better.
func (s *Scorer) Score(c Candidate, matches int, target types.Dimensions) float64 {
	score := s.cfg.TopicWeight * float64(matches)

	if c.Width > 0 && c.Height > 0 {
		mp := float64(c.Width*c.Height) / 1e6
		score += s.cfg.MegapixelWeight * math.Min(mp, s.cfg.MegapixelCap)

		ratio := float64(c.Width) / float64(c.Height)
		score -= s.cfg.AspectPenalty * math.Abs(math.Log(ratio/target.Ratio()))

		got := types.ClassifyAspect(c.Width, c.Height)
		want := types.ClassifyAspect(target.Width, target.Height)
		if got != want && got != "square" && want != "square" {
			score -= s.cfg.OrientationPenalty
		}
	}

	host := hostOf(c.URL)
	for _, d := range s.cfg.KnownGoodDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			score += s.cfg.DomainBonus
			break
		}
	}
	return score
}

func urlWords(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		p = u.Path
	}
	return strings.TrimSuffix(p, path.Ext(p))
}
