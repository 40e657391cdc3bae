package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/interrupt"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/llm"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/metrics"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/session"
	"github.com/ihsankhan122/Dentel-clinic-chatbot/internal/storage"
)

const threePatients = `Patient,MRN,City
Ali Khan,101,Lahore
Sara Ahmed,102,Karachi
Bilal Shah,103,Lahore
`

type dirFiles string

func (d dirFiles) Path(name string) string { return filepath.Join(string(d), name) }

// hookStore runs onActive whenever the active file is read.
type hookStore struct {
	*storage.Store
	onActive func()
}

func (h hookStore) ActiveFile() (storage.ActiveFile, error) {
	if h.onActive != nil {
		h.onActive()
	}
	return h.Store.ActiveFile()
}

// countingModel answers with the row count it finds in the prompt.
type countingModel struct {
	calls   atomic.Int32
	prompts []string
}

var rowCount = regexp.MustCompile(`The dataset contains (\d+) rows`)

func (m *countingModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	m.prompts = append(m.prompts, prompt)
	n := "unknown"
	if sub := rowCount.FindStringSubmatch(prompt); sub != nil {
		n = sub[1]
	}
	return fmt.Sprintf("There are %s patients in the file.", n), nil
}

type fixture struct {
	store    *storage.Store
	dir      string
	sessions *session.Store
	reg      *interrupt.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &fixture{
		store:    store,
		dir:      t.TempDir(),
		sessions: session.NewStore(time.Hour, session.DefaultWindow),
		reg:      interrupt.NewRegistry(),
	}
}

func (f *fixture) upload(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.store.ReplaceActiveFile(name); err != nil {
		t.Fatalf("ReplaceActiveFile: %v", err)
	}
}

func (f *fixture) pipeline(store Store, model llm.Completer, chunks int, delay time.Duration) *Pipeline {
	return New(store, dirFiles(f.dir), model, f.reg, metrics.New(), Config{Chunks: chunks, ChunkDelay: delay})
}

func TestAsk_CountsPatients(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	model := &countingModel{}
	p := f.pipeline(f.store, model, 2, time.Millisecond)
	sess := f.sessions.Open("s1")

	res := p.Ask(context.Background(), sess, "How many patients are there?")

	if res.Outcome != OutcomeAnswered {
		t.Fatalf("outcome = %s, response = %q", res.Outcome, res.Response)
	}
	if res.Response != "There are 3 patients in the file." {
		t.Errorf("response = %q", res.Response)
	}
	if res.Filename != "clinic.csv" {
		t.Errorf("filename = %q", res.Filename)
	}
	if res.RequestID == "" {
		t.Error("request id not set")
	}

	h := sess.History()
	if len(h) != 1 || h[0].UserMessage != "How many patients are there?" || h[0].BotResponse != res.Response {
		t.Errorf("history = %+v", h)
	}
	recs, _ := f.store.ListChats(10, 0)
	if len(recs) != 1 || recs[0].Response != res.Response {
		t.Errorf("chat log = %+v", recs)
	}
}

func TestAsk_InvalidMessage(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	model := &countingModel{}
	p := f.pipeline(f.store, model, 1, time.Millisecond)
	sess := f.sessions.Open("s1")

	for _, msg := range []string{"", "   ", "\n\t"} {
		res := p.Ask(context.Background(), sess, msg)
		if res.Response != MsgInvalid || res.Outcome != OutcomeInvalid {
			t.Errorf("Ask(%q) = %+v", msg, res)
		}
	}
	if model.calls.Load() != 0 {
		t.Error("model called for invalid message")
	}
	if n, _ := f.store.CountChats(); n != 0 {
		t.Errorf("chat log has %d records, want 0", n)
	}
}

func TestAsk_NoFile(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(f.store, &countingModel{}, 1, time.Millisecond)

	res := p.Ask(context.Background(), f.sessions.Open("s1"), "How many patients?")
	if res.Response != MsgNoFile || res.Outcome != OutcomeNoFile {
		t.Errorf("res = %+v", res)
	}
}

func TestAsk_LoadError(t *testing.T) {
	f := newFixture(t)
	if err := f.store.ReplaceActiveFile("gone.csv"); err != nil {
		t.Fatal(err)
	}
	p := f.pipeline(f.store, &countingModel{}, 1, time.Millisecond)
	sess := f.sessions.Open("s1")

	res := p.Ask(context.Background(), sess, "How many patients?")
	if res.Outcome != OutcomeLoadError {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if !strings.HasPrefix(res.Response, "Error loading CSV file: ") {
		t.Errorf("response = %q", res.Response)
	}
	if len(sess.History()) != 0 {
		t.Error("history changed on load error")
	}
}

func TestAsk_StoppedBeforeWork(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	model := &countingModel{}
	store := hookStore{Store: f.store, onActive: func() { f.reg.Stop("s1", "") }}
	p := f.pipeline(store, model, 10, time.Millisecond)
	sess := f.sessions.Open("s1")

	res := p.Ask(context.Background(), sess, "How many patients?")

	if res.Response != MsgStopped || res.Outcome != OutcomeStopped {
		t.Fatalf("res = %+v", res)
	}
	if model.calls.Load() != 0 {
		t.Error("model called after stop")
	}
	if len(sess.History()) != 0 {
		t.Errorf("history = %+v, want empty", sess.History())
	}
	if n, _ := f.store.CountChats(); n != 0 {
		t.Errorf("chat log has %d records, want 0", n)
	}
}

func TestAsk_StoppedDuringWork(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	model := &countingModel{}
	p := f.pipeline(f.store, model, 50, 20*time.Millisecond)

	go func() {
		for f.reg.Active("s1") == 0 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(30 * time.Millisecond)
		f.reg.Stop("s1", "")
	}()

	start := time.Now()
	res := p.Ask(context.Background(), f.sessions.Open("s1"), "How many patients?")

	if res.Outcome != OutcomeStopped {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if model.calls.Load() != 0 {
		t.Error("model called after stop")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("stop took %v to take effect", time.Since(start))
	}
}

func TestAsk_StopOtherSessionDoesNotAffect(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	model := &countingModel{}
	store := hookStore{Store: f.store, onActive: func() { f.reg.Stop("someone-else", "") }}
	p := f.pipeline(store, model, 2, time.Millisecond)

	res := p.Ask(context.Background(), f.sessions.Open("s1"), "How many patients?")
	if res.Outcome != OutcomeAnswered {
		t.Errorf("outcome = %s, want answered", res.Outcome)
	}
}

func TestRun_StopByRequestID(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	store := hookStore{Store: f.store, onActive: func() { f.reg.Stop("s1", "other") }}
	p := f.pipeline(store, &countingModel{}, 2, time.Millisecond)

	res := p.Run(context.Background(), Request{Session: f.sessions.Open("s1"), Message: "q", RequestID: "mine"})
	if res.Outcome != OutcomeAnswered {
		t.Errorf("outcome = %s, want answered", res.Outcome)
	}
	if res.RequestID != "mine" {
		t.Errorf("request id = %q, want mine", res.RequestID)
	}
}

func TestAsk_LLMErrorIsPersisted(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	failing := llm.Func(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("quota exceeded")
	})
	p := f.pipeline(f.store, failing, 1, time.Millisecond)
	sess := f.sessions.Open("s1")

	res := p.Ask(context.Background(), sess, "How many patients?")

	if res.Response != "Error generating response: quota exceeded" {
		t.Errorf("response = %q", res.Response)
	}
	if res.Outcome != OutcomeLLMError {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if len(sess.History()) != 1 {
		t.Errorf("history len = %d, want 1", len(sess.History()))
	}
	if n, _ := f.store.CountChats(); n != 1 {
		t.Errorf("chat log has %d records, want 1", n)
	}
}

func TestAsk_EmptyModelTextGetsApology(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	blank := llm.Func(func(ctx context.Context, prompt string) (string, error) { return "  \n", nil })
	p := f.pipeline(f.store, blank, 1, time.Millisecond)

	res := p.Ask(context.Background(), f.sessions.Open("s1"), "How many patients?")
	if res.Response != "I'm sorry, I couldn't generate a response. Please try again." {
		t.Errorf("response = %q", res.Response)
	}
}

func TestAsk_HistoryFeedsPrompt(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "clinic.csv", threePatients)
	model := &countingModel{}
	p := f.pipeline(f.store, model, 1, time.Millisecond)
	sess := f.sessions.Open("s1")

	p.Ask(context.Background(), sess, "Who lives in Lahore?")
	p.Ask(context.Background(), sess, "And in Karachi?")

	if len(model.prompts) != 2 {
		t.Fatalf("prompts = %d", len(model.prompts))
	}
	if strings.Contains(model.prompts[0], "RECENT CHAT HISTORY") {
		t.Error("first prompt should have no history")
	}
	if !strings.Contains(model.prompts[1], "User: Who lives in Lahore?") {
		t.Error("second prompt missing earlier question")
	}
}

func TestAsk_UsesLatestUpload(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "old.csv", threePatients)
	f.upload(t, "new.csv", "Patient\nOnly One\n")
	model := &countingModel{}
	p := f.pipeline(f.store, model, 1, time.Millisecond)

	res := p.Ask(context.Background(), f.sessions.Open("s1"), "How many patients?")
	if res.Filename != "new.csv" || res.Response != "There are 1 patients in the file." {
		t.Errorf("res = %+v", res)
	}
}
