package composer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/dataset"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/language"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
)

func testTable(t *testing.T, rows int) *dataset.Table {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("Patient,MRN,City\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "Patient %d,%d,Lahore\n", i, 100+i)
	}
	tbl, err := dataset.Read(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("dataset.Read: %v", err)
	}
	return tbl
}

func TestBuild_EmbedsDataset(t *testing.T) {
	p := Build(Input{Message: "How many patients are there?", Table: testTable(t, 3)})

	for _, want := range []string{
		"dental clinic data assistant",
		"The dataset contains 3 rows (showing first 3 rows).",
		`The available columns are: ["Patient","MRN","City"]`,
		`{"Patient":"Patient 0","MRN":100,"City":"Lahore"}`,
		`{"Patient":"Patient 2","MRN":102,"City":"Lahore"}`,
		"RESPONSE FORMATTING INSTRUCTIONS:",
		"**Registration date**: [Date]",
		`User's Question: "How many patients are there?"`,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuild_SamplesRows(t *testing.T) {
	p := Build(Input{Message: "q", Table: testTable(t, 12), MaxRows: 10})

	if !strings.Contains(p, "The dataset contains 12 rows (showing first 10 rows).") {
		t.Error("row counts missing")
	}
	if !strings.Contains(p, `"Patient 9"`) {
		t.Error("row 9 should be in the sample")
	}
	if strings.Contains(p, `"Patient 10"`) {
		t.Error("row 10 should not be in the sample")
	}
}

func TestBuild_NoHistoryBlockWhenEmpty(t *testing.T) {
	p := Build(Input{Message: "q", Table: testTable(t, 1)})
	if strings.Contains(p, "RECENT CHAT HISTORY") {
		t.Error("history block present without history")
	}
}

func TestBuild_HistoryTruncated(t *testing.T) {
	long := strings.Repeat("x", 250)
	p := Build(Input{
		Message: "and in Karachi?",
		Table:   testTable(t, 1),
		History: []session.Entry{
			{UserMessage: "patients in Lahore?", BotResponse: long},
		},
	})

	if !strings.Contains(p, "\n\nRECENT CHAT HISTORY:\nUser: patients in Lahore?\nBot: "+strings.Repeat("x", 200)+"...\n\n") {
		t.Errorf("history block not rendered as expected:\n%s", p)
	}
	if strings.Contains(p, strings.Repeat("x", 201)) {
		t.Error("bot response not truncated to 200 chars")
	}
}

func TestBuild_UrduDirective(t *testing.T) {
	p := Build(Input{Message: "کتنے مریض ہیں؟", Table: testTable(t, 1)})
	if !strings.Contains(p, language.UrduDirective) {
		t.Error("Urdu directive missing for Urdu message")
	}

	p = Build(Input{Message: "How many patients?", Table: testTable(t, 1)})
	if strings.Contains(p, language.UrduDirective) {
		t.Error("Urdu directive present for English message")
	}
}

func TestBuild_DirectivePrecedesQuestion(t *testing.T) {
	p := Build(Input{Message: "کتنے مریض ہیں؟", Table: testTable(t, 1)})
	if strings.Index(p, language.UrduDirective) > strings.Index(p, "User's Question:") {
		t.Error("directive must come before the question")
	}
}

func TestTruncate_CountsRunes(t *testing.T) {
	if got := truncate("مریضمریض", 4); got != "مریض..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 3); got != "abc" {
		t.Errorf("truncate = %q, want unchanged", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"hello world", 3},
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.input); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
