package fileinfo

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unknown marks a field no matcher could derive.
const Unknown = "unknown"

// Info holds the fields derived from one filename.
type Info struct {
	Filename    string   `json:"filename"`
	Participant string   `json:"participant"`
	Session     string   `json:"session,omitempty"`
	Task        string   `json:"task,omitempty"`
	Run         string   `json:"run,omitempty"`
	Split       string   `json:"split,omitempty"`
	Extension   string   `json:"extension,omitempty"`
	Processing  []string `json:"processing,omitempty"`
	Description []string `json:"description,omitempty"`
	Datatypes   []string `json:"datatypes,omitempty"`
	// Rule names the matcher that produced Participant.
	Rule string `json:"rule"`
}

// Fields returns the non-empty identity fields as metadata. An unknown
// participant is omitted.
func (i Info) Fields() map[string]string {
	out := map[string]string{}
	if i.Participant != "" && i.Participant != Unknown {
		out["participant"] = i.Participant
	}
	if i.Session != "" {
		out["session"] = i.Session
	}
	if i.Task != "" {
		out["task"] = i.Task
	}
	if i.Run != "" {
		out["run"] = i.Run
	}
	return out
}

var (
	bidsEntityPattern = regexp.MustCompile(`^([a-zA-Z]+)-([a-zA-Z0-9]+)$`)
	natmegPattern     = regexp.MustCompile(`NatMEG_(\d+)`)
	prefixPattern     = regexp.MustCompile(`(?i)(?:natmeg_?|sub-?)(\d+)`)
	digitsPattern     = regexp.MustCompile(`\d{2,}`)
	splitPattern      = regexp.MustCompile(`^(.*?)-(\d+)$`)
	processingPattern = regexp.MustCompile(`^(?:tsss|sss|corr\d+|ds\d+|mc|avgHead)$`)
	headposPattern    = regexp.MustCompile(`^(?:trans|headpos)$`)
	noisePattern      = regexp.MustCompile(`(?i)empty|noise`)
	noiseWhenPattern  = regexp.MustCompile(`(?i)before|after`)
	opmHintPattern    = regexp.MustCompile(`(?i)opm|kaptah|HPIbefore|HPIafter|HPImiddle`)
)

var datatypeTokens = map[string]bool{"meg": true, "raw": true, "opm": true, "eeg": true, "behav": true}

var titleCaser = cases.Title(language.Und, cases.NoLower)

// matcher tries to derive the participant (and possibly more) from the
// tokenized stem. It reports whether it matched.
type matcher struct {
	name  string
	apply func(stem string, tokens []string, info *Info) bool
}

var matchers = []matcher{
	{name: "bids", apply: matchBIDS},
	{name: "natmeg", apply: matchRegexp(natmegPattern)},
	{name: "prefix", apply: matchRegexp(prefixPattern)},
	{name: "numeric", apply: matchDigits},
}

// Extract derives identity hints from filename. Directories are ignored.
func Extract(filename string) Info {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}
	info := Info{Filename: base, Participant: Unknown, Rule: "none"}

	// Hints come from the part before the first dot; the extension is the
	// last suffix only.
	stem := base
	if idx := strings.Index(base, "."); idx >= 0 {
		stem = base[:idx]
		info.Extension = filepath.Ext(base)
	}
	tokens := splitTokens(stem)

	for _, m := range matchers {
		if m.apply(stem, tokens, &info) {
			info.Rule = m.name
			break
		}
	}
	if info.Rule != "bids" {
		annotate(base, tokens, &info)
	}
	return info
}

func splitTokens(stem string) []string {
	raw := strings.Split(stem, "_")
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// matchBIDS accepts names made of key-value entities led by sub-, with an
// optional trailing suffix such as "meg".
func matchBIDS(_ string, tokens []string, info *Info) bool {
	if len(tokens) < 2 || !strings.HasPrefix(tokens[0], "sub-") {
		return false
	}
	entities := map[string]string{}
	suffix := ""
	for i, tok := range tokens {
		m := bidsEntityPattern.FindStringSubmatch(tok)
		if m == nil {
			if i == len(tokens)-1 && i > 0 {
				suffix = tok
				continue
			}
			return false
		}
		entities[strings.ToLower(m[1])] = m[2]
	}
	if len(entities) < 2 {
		return false
	}
	info.Participant = entities["sub"]
	info.Session = entities["ses"]
	info.Task = entities["task"]
	info.Run = entities["run"]
	info.Split = entities["split"]
	if proc := entities["proc"]; proc != "" {
		info.Processing = []string{proc}
	}
	if desc := entities["desc"]; desc != "" {
		info.Description = []string{desc}
	}
	if suffix != "" {
		info.Datatypes = []string{strings.ToLower(suffix)}
	}
	return info.Participant != ""
}

func matchRegexp(pattern *regexp.Regexp) func(string, []string, *Info) bool {
	return func(stem string, _ []string, info *Info) bool {
		m := pattern.FindStringSubmatch(stem)
		if m == nil {
			return false
		}
		info.Participant = m[1]
		return true
	}
}

func matchDigits(stem string, _ []string, info *Info) bool {
	digits := digitsPattern.FindString(stem)
	if digits == "" {
		return false
	}
	info.Participant = digits
	return true
}

// annotate fills datatypes, processing tags, split and task for names that
// are not BIDS formatted.
func annotate(base string, tokens []string, info *Info) {
	var remaining []string
	for i, tok := range tokens {
		if i == len(tokens)-1 {
			if m := splitPattern.FindStringSubmatch(tok); m != nil {
				info.Split = m[2]
				tok = m[1]
			}
		}
		lower := strings.ToLower(tok)
		switch {
		case datatypeTokens[lower]:
			info.Datatypes = appendUnique(info.Datatypes, lower)
		case processingPattern.MatchString(tok):
			info.Processing = append(info.Processing, tok)
		case headposPattern.MatchString(tok):
			info.Description = append(info.Description, tok)
		case isParticipantToken(tok, info.Participant):
		case lower == "proc" || lower == "natmeg" || tok == "":
		default:
			remaining = append(remaining, tok)
		}
	}
	if opmHintPattern.MatchString(base) {
		info.Datatypes = appendUnique(info.Datatypes, "opm")
	}

	if slices.Contains(info.Datatypes, "opm") {
		info.Task = opmTask(tokens)
	} else {
		info.Task = joinTask(remaining)
	}
	if info.Task != "" && noisePattern.MatchString(info.Task) {
		info.Task = "Noise" + titleCaser.String(strings.ToLower(noiseWhenPattern.FindString(info.Task)))
	}
}

func isParticipantToken(tok, participant string) bool {
	if participant == "" || participant == Unknown {
		return false
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(tok), "sub-"), "sub")
	trimmed = strings.TrimPrefix(trimmed, "natmeg")
	return trimmed == participant || tok == participant
}

// opmTask takes the token before the last one and cuts it at "opm", the
// naming scheme used by OPM recordings.
func opmTask(tokens []string) string {
	if len(tokens) < 2 {
		return ""
	}
	task := strings.TrimPrefix(tokens[len(tokens)-2], "file-")
	if idx := strings.Index(strings.ToLower(task), "opm"); idx >= 0 {
		task = task[:idx]
	}
	return task
}

func joinTask(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(titleCaser.String(p))
	}
	return b.String()
}

func appendUnique(values []string, v string) []string {
	if slices.Contains(values, v) {
		return values
	}
	return append(values, v)
}
