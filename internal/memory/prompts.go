package memory

import (
	"strings"

	"github.com/kestrelai/deskagent/internal/pkg/tokens"
)

// maxTranscriptTokens bounds how much conversation history the fact
// extraction prompt carries, so a long-running conversation doesn't blow
// past the configured LLM's context window on every addWithInference call.
const maxTranscriptTokens = 6000

// factExtractionPrompt and memoryUpdatePrompt are the system prompts driving
// M5's two LLM calls, ported verbatim from the original mem0-rust
// memory/prompts.rs (FACT_EXTRACTION_PROMPT and MEMORY_UPDATE_PROMPT).
const factExtractionPrompt = `You are a Personal Information Organizer, specialized in accurately storing facts, user memories, and preferences.

Your task is to extract relevant facts, user preferences, and personal information from the given conversation and organize them into distinct, manageable facts.

Guidelines:
1. Extract only facts, preferences, and personal information explicitly mentioned
2. Each fact should be atomic (contain one piece of information)
3. Use first person (I, me, my) when storing user information
4. Use third person (user, they, their) when storing observations about the user
5. Be concise but complete
6. Don't make assumptions beyond what's stated
7. Don't include temporary or context-specific information

Return a JSON object with a "facts" array containing the extracted facts as strings.

Example response format:
{
  "facts": [
    "I prefer dark mode",
    "My favorite programming language is Rust",
    "I work as a software engineer"
  ]
}

If no relevant facts are found, return:
{
  "facts": []
}`

const memoryUpdatePrompt = `You are a memory management system. Your task is to analyze new facts and existing memories to determine the appropriate action for each new fact.

For each new fact, you must decide:
1. ADD - Add as a new memory (no similar existing memory)
2. UPDATE - Update an existing memory with new/corrected information
3. DELETE - Mark an existing memory for deletion (contradicted or outdated)
4. NOOP - No action needed (duplicate or already captured)

Guidelines:
- Compare each new fact with existing memories for semantic similarity
- If updating, merge information appropriately
- Preserve important historical context when updating
- Only delete if clearly contradicted

Return a JSON object with a "memory" array, where each item has:
- "event": "ADD" | "UPDATE" | "DELETE" | "NOOP"
- "text": the memory text (for ADD/UPDATE)
- "id": the existing memory ID (for UPDATE/DELETE, as a string number)

Example:
{
  "memory": [
    {"event": "ADD", "text": "User prefers dark mode"},
    {"event": "UPDATE", "id": "2", "text": "User works at Google as a senior engineer"},
    {"event": "DELETE", "id": "5"}
  ]
}`

// formatFactExtractionInput renders the user prompt for the fact-extraction
// call (format_fact_extraction_input in prompts.rs).
func formatFactExtractionInput(transcript string) string {
	return "Extract facts from the following conversation:\n\n" + transcript
}

// existingMemory is one (id, text) pair shown to the reconciliation prompt.
type existingMemory struct {
	ID   string
	Text string
}

// formatMemoryUpdateInput renders the user prompt for the reconciliation
// call (format_memory_update_input in prompts.rs).
func formatMemoryUpdateInput(existing []existingMemory, newFacts []string) string {
	var b strings.Builder
	b.WriteString("Existing memories:\n")
	if len(existing) == 0 {
		b.WriteString("None\n")
	} else {
		for _, m := range existing {
			b.WriteString("[" + m.ID + "] " + m.Text + "\n")
		}
	}

	b.WriteString("\nNew facts to process:\n")
	for _, f := range newFacts {
		b.WriteString("- " + f + "\n")
	}
	return b.String()
}

// renderTranscript turns a Message slice into the plain-text transcript the
// fact-extraction prompt expects, truncated to maxTranscriptTokens from the
// tail so the most recent turns survive when a conversation runs long.
func renderTranscript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Role + ": " + m.Content)
	}

	full := b.String()
	if tokens.Count(full) <= maxTranscriptTokens {
		return full
	}

	reversed := reverseLines(full)
	truncated := tokens.Truncate(reversed, maxTranscriptTokens)
	return reverseLines(truncated)
}

// reverseLines reverses line order, letting tokens.Truncate's head-truncation
// keep the tail of a transcript instead of the head.
func reverseLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}
