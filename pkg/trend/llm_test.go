package trend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elonfeng/timeline-digest/pkg/source"
)

const digestJSON = `{"subject":"Cloud day","summary":"Two posts on cloud costs.","decisions":[{"item_id":"1","relevant":true,"why_relevant":"cost data","main_takeaway":"prices fell","relevance_score":91},{"item_id":"","relevant":false,"why_relevant":"","main_takeaway":"","relevance_score":0}],"article_links":[{"url":"https://example.com/post","why_relevant":"benchmarks"}]}`

var testItems = []source.Item{{ID: "1", Text: "cloud prices fell", Likes: 3}, {ID: "2", Text: "lunch"}}

func TestOpenAIGenerator(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": digestJSON},
			}},
		})
	}))
	defer srv.Close()

	g, err := NewLLMGenerator("openai", "", "sk-test", srv.URL+"/v1", nil)
	if err != nil {
		t.Fatalf("NewLLMGenerator: %v", err)
	}
	d, err := g.GenerateDayDigest(context.Background(), "2026-02-24", testItems, []string{"cloud"})
	if err != nil {
		t.Fatalf("GenerateDayDigest: %v", err)
	}
	if d.Subject != "Cloud day" || len(d.Decisions) != 1 || d.Decisions[0].RelevanceScore != 91 {
		t.Fatalf("unexpected digest %+v", d)
	}
	if len(d.ArticleLinks) != 1 {
		t.Errorf("expected 1 article link, got %d", len(d.ArticleLinks))
	}

	format, _ := body["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Errorf("expected json_schema response format, got %v", format["type"])
	}
	schema, _ := format["json_schema"].(map[string]any)
	if schema["name"] != "day_digest" || schema["strict"] != true {
		t.Errorf("unexpected schema envelope %v", schema)
	}
}

func TestOpenAIGeneratorRejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": `{"subject":"","summary":"x","decisions":[]}`},
			}},
		})
	}))
	defer srv.Close()

	g, _ := NewLLMGenerator("openai", "", "sk-test", srv.URL+"/v1", nil)
	if _, err := g.GenerateDayDigest(context.Background(), "2026-02-24", testItems, nil); err == nil {
		t.Fatal("expected error for missing subject")
	}
}

func TestAnthropicGenerator(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "ak-test" {
			t.Errorf("unexpected api key header %q", got)
		}
		var req struct {
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
			prompt = req.Messages[0].Content[0].Text
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       DefaultAnthropicModel,
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": "```json\n" + digestJSON + "\n```"}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	g, err := NewLLMGenerator("anthropic", "", "ak-test", srv.URL+"/v1", nil)
	if err != nil {
		t.Fatalf("NewLLMGenerator: %v", err)
	}
	d, err := g.GenerateDayDigest(context.Background(), "2026-02-24", testItems, []string{"cloud"})
	if err != nil {
		t.Fatalf("GenerateDayDigest: %v", err)
	}
	if d.Summary != "Two posts on cloud costs." {
		t.Errorf("unexpected summary %q", d.Summary)
	}
	if !strings.Contains(prompt, `"day":"2026-02-24"`) || !strings.Contains(prompt, `"topics":["cloud"]`) {
		t.Errorf("prompt missing day or topics: %s", prompt)
	}
}

func TestNewLLMGeneratorValidation(t *testing.T) {
	if _, err := NewLLMGenerator("openai", "", "", "", nil); err == nil {
		t.Error("expected error for missing key")
	}
	if _, err := NewLLMGenerator("gemini", "", "k", "", nil); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"{}":                  "{}",
		"```json\n{}\n```":    "{}",
		"  ```\n{\"a\":1}```": `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
