package oracle

import (
	"fmt"
	"strings"
)

// SiteContext carries the Sense-phase observations the generation prompt is
// grounded on.
type SiteContext struct {
	URL          string
	Goal         string
	Title        string
	TextExcerpt  string
	AntiBotLevel string
	Features     []string
	MaxSamples   int
}

const codeContract = `Requirements:
- Write a single self-contained Python 3 script.
- Print exactly one JSON array of objects to stdout and nothing else.
- Each object is one extracted record with descriptive snake_case keys.
- Handle missing elements gracefully; never crash on an absent field.
- Do not prompt for input and do not write files unless asked.`

// GenerationPrompt builds the initial code-generation prompt for a site.
func GenerationPrompt(sc SiteContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing a web data extractor.\n\n")
	fmt.Fprintf(&b, "Target URL: %s\n", sc.URL)
	fmt.Fprintf(&b, "Extraction goal: %s\n", sc.Goal)
	if sc.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", sc.Title)
	}
	if sc.MaxSamples > 0 {
		fmt.Fprintf(&b, "Collect at most %d records.\n", sc.MaxSamples)
	}
	if sc.AntiBotLevel != "" && sc.AntiBotLevel != "none" {
		fmt.Fprintf(&b, "\nAnti-bot level detected: %s", sc.AntiBotLevel)
		if len(sc.Features) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(sc.Features, ", "))
		}
		b.WriteString("\nUse realistic request headers and conservative pacing.\n")
	}
	if sc.TextExcerpt != "" {
		fmt.Fprintf(&b, "\nPage content excerpt:\n%s\n", sc.TextExcerpt)
	}
	b.WriteString("\n" + codeContract)
	b.WriteString("\n\nReturn the script in a single fenced code block.")
	return b.String()
}

// RevisionPrompt builds the repair-loop revision prompt. Accumulated failure
// history is fed back so a revision does not repeat a failed fix; repeated
// signatures flag revisions that already match an earlier attempt.
func RevisionPrompt(code, cause, detail string, history []string, repeatedEarlier bool) string {
	var b strings.Builder
	b.WriteString("The following extractor failed and needs a revision.\n\n")
	fmt.Fprintf(&b, "Diagnosed cause: %s\n", cause)
	if detail != "" {
		fmt.Fprintf(&b, "Failure detail:\n%s\n", detail)
	}
	if len(history) > 0 {
		b.WriteString("\nEarlier repair attempts (do not repeat these fixes):\n")
		for i, h := range history {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h)
		}
	}
	if repeatedEarlier {
		b.WriteString("\nA previous revision matched an even earlier attempt. Produce a materially different approach this time.\n")
	}
	fmt.Fprintf(&b, "\nCurrent script:\n```python\n%s\n```\n", code)
	b.WriteString("\n" + codeContract)
	b.WriteString("\n\nReturn the full revised script in a single fenced code block.")
	return b.String()
}

// ClassificationPrompt asks the oracle to name the failure cause when the
// fixed pattern rules were inconclusive.
func ClassificationPrompt(stderr, stdout string) string {
	var b strings.Builder
	b.WriteString("An automated web extractor failed. Classify the root cause.\n\n")
	if stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n\n", stderr)
	}
	if stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n\n", stdout)
	}
	b.WriteString(`Answer with exactly one of these labels and nothing else:
slow_load, structure_drift, format_error, access_blocked, unknown`)
	return b.String()
}

// ExtractCode pulls the first fenced code block out of an oracle response.
// A response with no fence is returned trimmed as-is, so an oracle that
// answers with bare code still works.
func ExtractCode(response string) string {
	trimmed := strings.TrimSpace(response)
	start := strings.Index(trimmed, "```")
	if start == -1 {
		return trimmed
	}

	rest := trimmed[start+3:]
	// Skip the language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// TemplateCode is the built-in minimal extractor used after the plan-phase
// oracle retry cap is exhausted. It grabs anchor text and links, which at
// least yields inspectable records for the quality gate.
func TemplateCode(siteURL string, maxSamples int) string {
	if maxSamples <= 0 {
		maxSamples = 20
	}
	return fmt.Sprintf(`import json
import urllib.request
from html.parser import HTMLParser


class LinkParser(HTMLParser):
    def __init__(self):
        super().__init__()
        self.records = []
        self.href = None
        self.text = []

    def handle_starttag(self, tag, attrs):
        if tag == "a":
            self.href = dict(attrs).get("href", "")
            self.text = []

    def handle_data(self, data):
        if self.href is not None:
            self.text.append(data.strip())

    def handle_endtag(self, tag):
        if tag == "a" and self.href is not None:
            title = " ".join(t for t in self.text if t)
            if title:
                self.records.append({"title": title, "url": self.href})
            self.href = None


req = urllib.request.Request(%q, headers={"User-Agent": "Mozilla/5.0"})
with urllib.request.urlopen(req, timeout=30) as resp:
    body = resp.read().decode("utf-8", errors="replace")

parser = LinkParser()
parser.feed(body)
print(json.dumps(parser.records[:%d]))
`, siteURL, maxSamples)
}
