package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/IshaanNene/RankWatch/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestHTTPClientOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var body struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "gpt-4o-mini" || len(body.Messages) != 2 || body.Messages[0]["role"] != "system" {
			t.Errorf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Provider: ProviderOpenAI, Endpoint: srv.URL + "/v1", Model: "gpt-4o-mini", APIKey: "sk-test"}, testLogger)
	out, err := c.Generate(context.Background(), Prompt{System: "be brief", User: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("out = %q", out)
	}
}

func TestHTTPClientOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != false || body["prompt"] != "hi" {
			t.Errorf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"response":"hello"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Provider: ProviderOllama, Endpoint: srv.URL, Model: "llama3"}, testLogger)
	out, err := c.Generate(context.Background(), Prompt{User: "hi"})
	if err != nil || out != "hello" {
		t.Errorf("Generate = %q, %v", out, err)
	}
}

func TestHTTPClientCustomReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`plain text answer`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Provider: ProviderCustom, Endpoint: srv.URL}, testLogger)
	out, err := c.Generate(context.Background(), Prompt{User: "hi"})
	if err != nil || out != "plain text answer" {
		t.Errorf("Generate = %q, %v", out, err)
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Provider: ProviderOpenAI, Endpoint: srv.URL}, testLogger)
	_, err := c.Generate(context.Background(), Prompt{User: "hi"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 429 {
		t.Fatalf("err = %v, want StatusError 429", err)
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited should be true")
	}
}

// scriptedGenerator fails with errs in order, then returns out.
type scriptedGenerator struct {
	errs  []error
	out   string
	calls atomic.Int32
}

func (s *scriptedGenerator) Name() string { return "scripted" }

func (s *scriptedGenerator) Generate(ctx context.Context, _ Prompt) (string, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) {
		return "", s.errs[n-1]
	}
	return s.out, nil
}

func TestLimitedRetriesOnRateLimit(t *testing.T) {
	next := &scriptedGenerator{
		errs: []error{&StatusError{StatusCode: 429}, errors.New("upstream: 429 Too Many Requests")},
		out:  "done",
	}
	g := NewLimited(next, testLogger, WithRetries(2, time.Millisecond))

	out, err := g.Generate(context.Background(), Prompt{User: "x"})
	if err != nil || out != "done" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
	if next.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", next.calls.Load())
	}
}

func TestLimitedDoesNotRetryOtherErrors(t *testing.T) {
	next := &scriptedGenerator{errs: []error{&StatusError{StatusCode: 500}}, out: "never"}
	g := NewLimited(next, testLogger, WithRetries(3, time.Millisecond))

	if _, err := g.Generate(context.Background(), Prompt{User: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if next.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", next.calls.Load())
	}
}

func TestLimitedGivesUpAfterRetries(t *testing.T) {
	throttled := &StatusError{StatusCode: 429}
	next := &scriptedGenerator{errs: []error{throttled, throttled, throttled}}
	g := NewLimited(next, testLogger, WithRetries(1, time.Millisecond))

	if _, err := g.Generate(context.Background(), Prompt{User: "x"}); !IsRateLimited(err) {
		t.Errorf("err = %v, want rate limited", err)
	}
	if next.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", next.calls.Load())
	}
}

type slowGenerator struct{}

func (slowGenerator) Name() string { return "slow" }

func (slowGenerator) Generate(ctx context.Context, _ Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestLimitedTimeout(t *testing.T) {
	g := NewLimited(slowGenerator{}, testLogger, WithTimeout(20*time.Millisecond))
	_, err := g.Generate(context.Background(), Prompt{User: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// fakeChatModel is an in-memory eino chat model.
type fakeChatModel struct {
	got []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	return &schema.Message{Role: schema.Assistant, Content: "from eino"}, nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoGenerator(t *testing.T) {
	cm := &fakeChatModel{}
	g := NewEinoGenerator(cm, testLogger)

	out, err := g.Generate(context.Background(), Prompt{System: "sys", User: "user"})
	if err != nil || out != "from eino" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
	if len(cm.got) != 2 || cm.got[0].Role != schema.System || cm.got[1].Content != "user" {
		t.Errorf("messages = %+v", cm.got)
	}
}

func TestNewFactory(t *testing.T) {
	cfg := config.DefaultConfig().AI
	g, err := New(context.Background(), &cfg, testLogger, nil)
	if err != nil || g != nil {
		t.Errorf("disabled: g=%v err=%v", g, err)
	}

	cfg.Enabled = true
	cfg.Provider = "ollama"
	g, err = New(context.Background(), &cfg, testLogger, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Name() != "ollama" {
		t.Errorf("Name = %q", g.Name())
	}

	cfg.Provider = "bard"
	if _, err := New(context.Background(), &cfg, testLogger, nil); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", `Sure! Here you go: {"a":{"b":2}} Hope it helps.`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"x}y","b":1}`, `{"a":"x}y","b":1}`},
		{"escaped quote", `{"a":"say \"}\" ok"}`, `{"a":"say \"}\" ok"}`},
		{"truncated", `{"a":1`, ""},
		{"none", `no json here`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
