package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag-go/internal/config"
	"webrag-go/pkg/errs"
)

type fakeCompleter struct {
	res     completion
	err     error
	prompts []string
}

func (f *fakeCompleter) complete(_ context.Context, prompt string) (completion, error) {
	f.prompts = append(f.prompts, prompt)
	return f.res, f.err
}
func (f *fakeCompleter) model() string { return "fake" }
func (f *fakeCompleter) close() error  { return nil }

func TestBuildPrompt(t *testing.T) {
	sources := []Source{
		{Text: "Go was designed at Google.", SourceURL: "https://a.example"},
		{Text: "It has goroutines.", SourceURL: "https://b.example"},
	}
	p := BuildPrompt("Who designed Go?", sources)

	assert.True(t, strings.HasPrefix(p, "You are a helpful AI assistant that answers questions based ONLY on the provided context.\nINSTRUCTIONS:\n"))
	assert.Contains(t, p, "CONTEXT:\nSource 1 (https://a.example):\nGo was designed at Google.\n\n---\nSource 2 (https://b.example):\nIt has goroutines.\n")
	assert.Contains(t, p, `respond: "I cannot answer this question based on the provided context."`)
	assert.True(t, strings.HasSuffix(p, "\nQUESTION: Who designed Go?\nANSWER:"))
	assert.Equal(t, p, BuildPrompt("Who designed Go?", sources))
}

func TestGenerateAnswer(t *testing.T) {
	fc := &fakeCompleter{res: completion{Text: "  According to Source 1, Google.  "}}
	g := &generator{c: fc}

	answer, err := g.GenerateAnswer(context.Background(), "q", []Source{{Text: "t", SourceURL: "u"}})
	require.NoError(t, err)
	assert.Equal(t, "According to Source 1, Google.", answer)
	require.Len(t, fc.prompts, 1)
	assert.Contains(t, fc.prompts[0], "Source 1 (u):\nt\n")
}

func TestGenerateAnswerBlockedReturnsRefusal(t *testing.T) {
	g := &generator{c: &fakeCompleter{res: completion{Blocked: true}}}
	answer, err := g.GenerateAnswer(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, RefusalMessage, answer)
}

func TestGenerateAnswerErrors(t *testing.T) {
	_, err := (&generator{c: &fakeCompleter{res: completion{Text: "   "}}}).GenerateAnswer(context.Background(), "q", nil)
	assert.ErrorIs(t, err, errs.ErrGeneration)

	_, err = (&generator{c: &fakeCompleter{err: errors.New("boom")}}).GenerateAnswer(context.Background(), "q", nil)
	assert.ErrorIs(t, err, errs.ErrGeneration)
	assert.Contains(t, err.Error(), "boom")
}

func TestGeminiCompletion(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content:      &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("world")}},
		FinishReason: genai.FinishReasonStop,
	}}}
	assert.Equal(t, completion{Text: "Hello world"}, geminiCompletion(resp))

	safety := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}
	assert.True(t, geminiCompletion(safety).Blocked)
	assert.Equal(t, completion{}, geminiCompletion(nil))
}

func TestOpenAICompleter(t *testing.T) {
	finish := "stop"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-chat", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "x", "object": "chat.completion", "model": "deepseek-chat",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "answer text"},
				"finish_reason": finish,
			}},
		})
	}))
	defer srv.Close()

	cl, err := NewFromConfig(context.Background(), config.LLMConfig{
		Provider: "openai", APIKey: "k", BaseURL: srv.URL, Model: "deepseek-chat",
	})
	require.NoError(t, err)
	defer cl.Close()

	answer, err := cl.GenerateAnswer(context.Background(), "q", []Source{{Text: "t", SourceURL: "u"}})
	require.NoError(t, err)
	assert.Equal(t, "answer text", answer)
	assert.Equal(t, "deepseek-chat", cl.Model())

	finish = "content_filter"
	answer, err = cl.GenerateAnswer(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, RefusalMessage, answer)
}

func TestNewFromConfigUnknownProvider(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "bard"})
	assert.Error(t, err)
}
