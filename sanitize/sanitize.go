// Package sanitize normalizes raw platform message content into the HTML
// stored by the mirror. The pass order is fixed: platform tokens, emoji,
// timestamps, script stripping, PII redaction, markdown conversion, and a
// final allowlist pass. Each pass operates on the output of the previous
// one, and the whole pipeline is idempotent on its own output.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/microcosm-cc/bluemonday"
)

// Result carries the sanitized HTML plus what was removed along the way.
// RedactedPII and HadScript feed the moderation queue.
type Result struct {
	HTML            string
	RedactedPII     bool
	HadScript       bool
	RemovedMentions []string
	RemovedEmoji    []string
}

var (
	reUserMention    = regexp.MustCompile(`<@!?\d{17,19}>`)
	reChannelMention = regexp.MustCompile(`<#\d{17,19}>`)
	reRoleMention    = regexp.MustCompile(`<@&\d{17,19}>`)
	reCustomEmoji    = regexp.MustCompile(`<a?:\w+:\d{17,19}>`)
	reTimestamp      = regexp.MustCompile(`<t:\d{1,13}(:[tTdDfFR])?>`)

	reScriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	reJavascript  = regexp.MustCompile(`(?i)javascript:`)
	reEventAttr   = regexp.MustCompile(`(?i) on\w+=`)

	reEmail = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	reSSN   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	// Card before phone: the trailing ten digits of a contiguous sixteen-digit
	// card body would otherwise satisfy the phone pattern.
	reCard  = regexp.MustCompile(`\b(\d{4}[ \-]?){3}\d{4}\b`)
	rePhone = regexp.MustCompile(`(\+?1[\-. ]?)?\(?\d{3}\)?[\-. ]?\d{3}[\-. ]?\d{4}\b`)

	reCodeBlock  = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*\\n)?(.*?)```")
	reBold       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reItalic     = regexp.MustCompile(`\*([^*\n]+)\*`)
	reStrike     = regexp.MustCompile(`~~([^~]+)~~`)
	reInlineCode = regexp.MustCompile("`([^`\\n]+)`")
	// A URL directly preceded by a quote or a closing bracket is already
	// inside markup from an earlier run; skipping it keeps the pipeline
	// idempotent (Go regexp has no lookbehind).
	reBareURL = regexp.MustCompile(`(^|[^">])(https?://[^\s<"]+)`)
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("pre", "code", "strong", "em", "del", "br")
	p.AllowAttrs("href", "rel", "target").OnElements("a")
	p.AllowAttrs("src", "width", "height", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https")
	return p
}

// Sanitize runs the full normalization pipeline over free-form source text.
func Sanitize(s string) Result {
	var res Result

	// 1. Platform mention tokens.
	s = collectReplace(s, reRoleMention, "[Role Mention]", &res.RemovedMentions)
	s = collectReplace(s, reChannelMention, "[Channel Mention]", &res.RemovedMentions)
	s = collectReplace(s, reUserMention, "[User Mention]", &res.RemovedMentions)

	// 2. Emoji: custom platform tokens, then plain unicode emoji.
	s = collectReplace(s, reCustomEmoji, "[Emoji]", &res.RemovedEmoji)
	found := gomoji.FindAll(s)
	for _, e := range found {
		res.RemovedEmoji = append(res.RemovedEmoji, e.Character)
		s = strings.ReplaceAll(s, e.Character, "[Emoji]")
	}

	// 3. Platform timestamp tokens.
	s = reTimestamp.ReplaceAllString(s, "[Timestamp]")

	// 4. Script stripping.
	if reScriptBlock.MatchString(s) {
		res.HadScript = true
		s = reScriptBlock.ReplaceAllString(s, "")
	}
	if reJavascript.MatchString(s) {
		res.HadScript = true
		s = reJavascript.ReplaceAllString(s, "javascript-removed:")
	}
	if reEventAttr.MatchString(s) {
		res.HadScript = true
		s = reEventAttr.ReplaceAllString(s, " data-removed-event=")
	}

	// 5. PII redaction.
	s = redact(s, reEmail, "[Email Redacted]", &res.RedactedPII)
	s = redact(s, reSSN, "[SSN Redacted]", &res.RedactedPII)
	s = redact(s, reCard, "[Card Number Redacted]", &res.RedactedPII)
	s = redact(s, rePhone, "[Phone Redacted]", &res.RedactedPII)

	// 6. Markdown subset to HTML, inner patterns before wrapping ones.
	s = reCodeBlock.ReplaceAllString(s, "<pre><code>$1</code></pre>")
	s = reBold.ReplaceAllString(s, "<strong>$1</strong>")
	s = reItalic.ReplaceAllString(s, "<em>$1</em>")
	s = reStrike.ReplaceAllString(s, "<del>$1</del>")
	s = reInlineCode.ReplaceAllString(s, "<code>$1</code>")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "<br>")
	s = reBareURL.ReplaceAllString(s, `$1<a href="$2" rel="noopener noreferrer" target="_blank">$2</a>`)

	// Final allowlist pass. Everything the converter emits survives the
	// policy; anything else a user smuggled through is stripped or escaped.
	res.HTML = policy.Sanitize(s)
	return res
}

func collectReplace(s string, re *regexp.Regexp, placeholder string, removed *[]string) string {
	matches := re.FindAllString(s, -1)
	if len(matches) == 0 {
		return s
	}
	*removed = append(*removed, matches...)
	return re.ReplaceAllString(s, placeholder)
}

func redact(s string, re *regexp.Regexp, placeholder string, flag *bool) string {
	if !re.MatchString(s) {
		return s
	}
	*flag = true
	return re.ReplaceAllString(s, placeholder)
}
