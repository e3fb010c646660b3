package extractor

import "strings"

const promptHead = "You are an expert meeting assistant. Analyze the following meeting transcript and provide a structured analysis.\n\n"

const promptTail = `

Your response must be a single, valid JSON object with these exact keys:
- "summary": A 3-sentence overview of the meeting
- "action_items": A list of strings, where each string is a specific task assigned to someone
- "key_decisions": A list of strings describing any decisions made during the meeting

Focus on:
1. Clear, actionable items with assignees when possible
2. Important decisions and their implications
3. Key topics discussed and outcomes

Return only the JSON object, no additional text:`

// BuildPrompt embeds the transcript, and the title when given, in the fixed
// analysis instruction.
func BuildPrompt(transcript, title string) string {
	var b strings.Builder
	b.Grow(len(promptHead) + len(transcript) + len(promptTail) + len(title) + 40)
	b.WriteString(promptHead)
	if title != "" {
		b.WriteString("Meeting Title: ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString("Meeting Transcript:\n")
	b.WriteString(transcript)
	b.WriteString(promptTail)
	return b.String()
}
