// Package composer builds the prompt sent to the language model for one chat
// question: dataset sample, recent history, answer formatting rules, and the
// optional Urdu directive.
package composer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/dataset"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/language"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
)

const (
	// DefaultMaxRows caps the rows embedded in a prompt.
	DefaultMaxRows = 500
	// DefaultMaxHistoryChars caps each history message quoted in a prompt.
	DefaultMaxHistoryChars = 200
)

// Input is everything a prompt is built from.
type Input struct {
	Message string
	Table   *dataset.Table
	History []session.Entry

	// MaxRows and MaxHistoryChars fall back to the defaults when <= 0.
	MaxRows         int
	MaxHistoryChars int
}

const instructions = `📄 Format your response as a clean, readable list with proper formatting.
📌 Answer the user's question based strictly on the data above.
✅ Be accurate with numbers (e.g., patient count, revenue, invoices, appointments).
🦷 Provide answers related to patients, treatments, invoices, payments, doctors, and appointments if asked.
💬 If the user asks general questions (e.g., "how are you?"), respond politely and stay helpful.
🚫 If any info is missing in the dataset, clearly say it's not available.
💭 Use the recent chat history to provide context-aware responses. Remember details from previous conversations.

RESPONSE FORMATTING INSTRUCTIONS:
1. For data records, use this exact format:
   - **Patient**: [Name]
     **MRN**: [Number]
     **Registration date**: [Date]
     **City**: [City]
     **Invoice number**: [Number]
     **Invoice date**: [Date]
     **Description**: [Description]
     **Price**: [Amount]
     **Doctor**: [Name]

2. For general questions, respond in a friendly, conversational tone.

3. For lists of items, use bullet points:
   - Item 1
   - Item 2
   - Item 3

4. Always use proper markdown formatting for field names: **Field Name**: Value

IMPORTANT: Always provide a meaningful response. Never return an empty message.
`

// Build renders the prompt for in.
func Build(in Input) string {
	maxRows := in.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	var sb strings.Builder
	sb.WriteString("\nYou are a dental clinic data assistant with memory of recent conversations. ")
	sb.WriteString("A user has uploaded a dataset containing dental clinic records.\n")

	if in.Table != nil {
		sample := in.Table.Head(maxRows)
		cols, _ := json.Marshal(in.Table.Columns)
		// Record marshalling only fails on unencodable keys, which CSV headers never are.
		rows, _ := json.Marshal(sample.Records())

		fmt.Fprintf(&sb, "🔢 The dataset contains %d rows (showing first %d rows).\n", in.Table.Len(), sample.Len())
		fmt.Fprintf(&sb, "📊 The available columns are: %s\n", cols)
		fmt.Fprintf(&sb, "Here is a sample of the dataset (first %d rows only) as JSON records:\n", maxRows)
		sb.Write(rows)
		sb.WriteByte('\n')
	}

	sb.WriteString(historyBlock(in.History, in.MaxHistoryChars))
	sb.WriteByte('\n')
	sb.WriteString(instructions)
	sb.WriteByte('\n')

	if language.IsUrdu(in.Message) {
		sb.WriteString(language.UrduDirective)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "User's Question: \"%s\"\n", in.Message)
	return sb.String()
}

func historyBlock(h []session.Entry, maxChars int) string {
	if len(h) == 0 {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxHistoryChars
	}

	var sb strings.Builder
	sb.WriteString("\n\nRECENT CHAT HISTORY:\n")
	for _, e := range h {
		fmt.Fprintf(&sb, "User: %s\nBot: %s\n\n", truncate(e.UserMessage, maxChars), truncate(e.BotResponse, maxChars))
	}
	return sb.String()
}

// truncate cuts s to n runes and marks the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
