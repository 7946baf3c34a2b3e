package intent

import "regexp"

// complexityPatterns covers German and English forms of the five
// complexity signals spec §4.8 names: conditionals, sequences,
// threshold comparisons, multi-action, and compound questions.
var complexityPatterns = []*regexp.Regexp{
	// Conditionals: "wenn ... dann", "if ... then"
	regexp.MustCompile(`(?i)\bwenn\b.*\bdann\b`),
	regexp.MustCompile(`(?i)\bif\b.*\bthen\b`),
	// Sequences: "und dann", "and then"
	regexp.MustCompile(`(?i)\bund dann\b`),
	regexp.MustCompile(`(?i)\band then\b`),
	// Threshold comparisons: "wärmer als", "more than"
	regexp.MustCompile(`(?i)\b(wärmer|kälter|höher|niedriger|mehr|weniger)\s+als\b`),
	regexp.MustCompile(`(?i)\b(more|less|warmer|colder|higher|lower)\s+than\b`),
	// Multi-action: two action verbs joined with "und"/"and"
	regexp.MustCompile(`(?i)\b(schalte|mach|öffne|schließe|stell|spiel|starte|stoppe)\w*\b.*\bund\b.*\b(schalte|mach|öffne|schließe|stell|spiel|starte|stoppe)\w*\b`),
	regexp.MustCompile(`(?i)\b(turn|switch|open|close|set|play|start|stop)\b.*\band\b.*\b(turn|switch|open|close|set|play|start|stop)\b`),
	// Compound questions: two question words joined
	regexp.MustCompile(`(?i)\b(wann|wo|warum|wie|was|wer)\b.*\b(und|oder)\b.*\b(wann|wo|warum|wie|was|wer)\b`),
	regexp.MustCompile(`(?i)\b(when|where|why|how|what|who)\b.*\b(and|or)\b.*\b(when|where|why|how|what|who)\b`),
}

const (
	Simple  = "simple"
	Complex = "complex"
)

// Complexity is the spec §4.8 Complexity Detector: a pure, LLM-free
// classification of a user message as "simple" or "complex", gating
// whether the Agent Router (vs. direct intent handling) takes over.
func Complexity(message string) string {
	if len(message) < 10 {
		return Simple
	}
	for _, re := range complexityPatterns {
		if re.MatchString(message) {
			return Complex
		}
	}
	return Simple
}
