package oracle

import (
	"fmt"
	"iter"
	"strings"

	"relay/internal/tool"
)

const promptHeader = `You are an assistant that receives instructions in natural language and decides whether one of the available tools should be called.
You can:
1. Call a tool when the user asks for something a tool provides.
2. Answer normally, as free text, when no tool applies.
`

const promptFooter = `When a tool is needed, reply ONLY with JSON like this:
{"tool": "<tool name>", "arguments": {"<parameter>": <value>}}

Otherwise reply ONLY with JSON like this:
{"response": "<your answer>"}
`

// BuildPrompt renders the instruction prompt for one user utterance.
// Tools are listed in the order the sequence yields them.
func BuildPrompt(utterance string, tools iter.Seq[tool.Descriptor]) string {
	var b strings.Builder

	b.WriteString(promptHeader)
	b.WriteString("\nAvailable tools:\n")

	n := 0
	for d := range tools {
		n++
		fmt.Fprintf(&b, "%d. %s", n, signature(d))
		if d.Description != "" {
			fmt.Fprintf(&b, " - %s", oneLine(d.Description))
		}
		b.WriteString("\n")

		for _, p := range d.Params {
			if p.Description != "" {
				fmt.Fprintf(&b, "   - %s: %s\n", p.Name, oneLine(p.Description))
			}
		}
	}
	if n == 0 {
		b.WriteString("(none)\n")
	}

	b.WriteString("\n")
	b.WriteString(promptFooter)
	fmt.Fprintf(&b, "\nUser: %s\n", utterance)

	return b.String()
}

// signature renders name(a: integer, b?: string)
func signature(d tool.Descriptor) string {
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		typ := p.Type
		if typ == "" {
			typ = "any"
		}
		params[i] = name + ": " + typ
	}
	return fmt.Sprintf("%s(%s)", d.Name, strings.Join(params, ", "))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
