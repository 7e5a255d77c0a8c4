package guard

import (
	"regexp"
	"strings"
)

// Detection categories reported in Report.Detections.
const (
	CategoryInstructionOverride = "instruction_override"
	CategoryRoleOverride        = "role_override"
	CategoryPromptExtraction    = "prompt_extraction"
	CategoryCodeExecution       = "code_execution"
	CategoryFormatInjection     = "format_injection"
	CategoryCodeFence           = "code_fence"
	CategoryMarkup              = "markup"
	CategoryEncodedPayload      = "encoded_payload"
	CategoryOverrideIntent      = "override_intent"
	CategoryDelimiter           = "delimiter"
	CategoryInvisible           = "invisible"
	CategoryHomoglyph           = "homoglyph"
)

type pattern struct {
	category string
	re       *regexp.Regexp
}

func mustPatterns(category string, exprs ...string) []pattern {
	out := make([]pattern, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, pattern{category: category, re: regexp.MustCompile(`(?i)` + e)})
	}
	return out
}

// injectionCatalogue is matched against the sanitized text and its leetspeak view.
var injectionCatalogue = concat(
	mustPatterns(CategoryInstructionOverride,
		`(ignore|forget|disregard)\s+(all\s+)?(the\s+)?(previous|above|prior)(\s+(instructions?|prompts?|rules?|messages?))?`,
		`new\s+instructions?\s*:`,
		`override\s+(your\s+)?instructions?`,
		`bypass\s+(your\s+)?safety`,
		`(stop|avoid|cease)\s+following\s+(your|the|current|previous)\s+(instructions?|rules?|polic(y|ies)|safety|guardrails?)`,
		`(prioriti[sz]e|follow)\s+(these|new|my)\s+(instructions?|rules?|guidance|directives?)\s+(over|instead\s+of)`,
		`(always|must|regardless)\s+(say|classify|output)\b[^.]*\b(high|medium|low|critical)(\s+severity)?`,
	),
	mustPatterns(CategoryRoleOverride,
		`\b(system|assistant|user|developer)\s*:`,
		`\[/?INST\]`,
		`<\|im_(start|end)\|>`,
		`###\s*(instruction|system|human|assistant)`,
		`you\s+are\s+now`,
		`pretend\s+(to\s+be|you\s+are)`,
		`roleplay\s+as`,
		`act\s+as\s+if`,
		`jailbreak`,
		`\bDAN\s+mode`,
	),
	mustPatterns(CategoryPromptExtraction,
		`what\s+(is|was|are)\s+your\s+(system\s+)?prompt`,
		`(share|reveal|disclose|output|print|dump|expose|repeat)\s+(your|the)\s+(internal\s+|hidden\s+|system\s+|developer\s+|initial\s+)?(prompt|instructions?|directives?)`,
		`system\s+prompt`,
		`translate\s+the\s+above`,
		`output\s+(your|the)\s+initial`,
		`initialized\s+with`,
		`operating\s+rules`,
	),
	mustPatterns(CategoryCodeExecution,
		`\b(eval|exec)\s*\(`,
	),
	mustPatterns(CategoryFormatInjection,
		`\b(severity|urgency|primary_concerns|recommendations)\s*:`,
	),
	mustPatterns(CategoryCodeFence,
		"```+|~~~+",
	),
	mustPatterns(CategoryMarkup,
		`</?[a-z][a-z0-9_:-]*(\s[^<>]*)?/?>`,
	),
)

// outputCatalogue is the smaller set applied to model output.
var outputCatalogue = concat(
	mustPatterns(CategoryPromptExtraction,
		`system\s+prompt`,
		`developer\s+instructions?`,
	),
	mustPatterns(CategoryInstructionOverride,
		`ignore\s+(all\s+)?(previous|above|prior)`,
	),
	mustPatterns(CategoryRoleOverride,
		`\{?\s*"role"\s*:\s*"(system|assistant|developer)"`,
		`you\s+are\s+now`,
		`(?m)^\s*(system|assistant)\s*:`,
		`<\|im_(start|end)\|>`,
		`\[/?INST\]`,
	),
)

var base64Candidate = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
)

// leetView maps digits and symbols to the letters they imitate. Every
// replacement is one ASCII byte for one ASCII byte, so indexes into the
// returned string are valid indexes into s.
func leetView(s string) string {
	return leetReplacer.Replace(s)
}

var overrideVerbs = map[string]bool{
	"ignore": true, "forget": true, "disregard": true, "override": true, "bypass": true,
	"disable": true, "stop": true, "prioritize": true, "prioritise": true, "replace": true,
	"reveal": true, "disclose": true, "share": true, "print": true, "dump": true,
	"show": true, "output": true, "expose": true,
}

var controlTargets = map[string]bool{
	"instruction": true, "instructions": true, "prompt": true, "system": true,
	"developer": true, "policy": true, "policies": true, "rule": true, "rules": true,
	"safety": true, "guardrail": true, "guardrails": true, "directive": true,
	"directives": true, "guidance": true, "hidden": true, "internal": true,
}

var wordPattern = regexp.MustCompile(`[a-z]+`)

// hasOverrideIntent catches paraphrased override attempts that no fixed
// pattern names: an override verb and a control target anywhere in the text.
func hasOverrideIntent(s string) bool {
	tokens := wordPattern.FindAllString(leetView(strings.ToLower(s)), -1)
	var verb, target, initialized, leakTarget bool
	for _, t := range tokens {
		switch {
		case overrideVerbs[t]:
			verb = true
		case t == "initialized" || t == "initialised":
			initialized = true
		}
		if controlTargets[t] {
			target = true
		}
		switch t {
		case "instructions", "prompt", "rules", "directives":
			leakTarget = true
		}
	}
	return (verb && target) || (initialized && leakTarget)
}

// matchesAny reports whether any catalogue entry matches s or its leet view.
func matchesAny(catalogue []pattern, s string) bool {
	leet := leetView(s)
	for _, p := range catalogue {
		if p.re.MatchString(s) || p.re.MatchString(leet) {
			return true
		}
	}
	return false
}

func concat(groups ...[]pattern) []pattern {
	var out []pattern
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
