package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/TryMightyAI/rampart/pkg/httputil"
)

// semanticThreshold is the minimum cosine similarity for a vector match
// to count as a finding.
const semanticThreshold = 0.65

// SemanticPattern is one exemplar phrase loaded into the vector store.
// Exemplars with category "benign" mark known-safe phrasings that
// suppress near matches instead of flagging them.
type SemanticPattern struct {
	Text     string `yaml:"text"`
	Category string `yaml:"category"`
	Language string `yaml:"language"`
	Severity int    `yaml:"severity"`
}

// SemanticStage catches injection phrasings the regex patterns miss by
// comparing each message against exemplar embeddings. It needs a
// running Ollama instance, so it is optional: query failures log a
// warning and report no findings rather than failing the turn.
type SemanticStage struct {
	collection *chromem.Collection
	threshold  float32
	topK       int
	nextID     int
}

// NewSemanticStage creates a stage backed by an in-memory vector store
// with embeddings served by Ollama at baseURL.
func NewSemanticStage(baseURL, model string) (*SemanticStage, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("risk_exemplars", nil, newOllamaEmbeddingFunc(model, baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create exemplar collection: %w", err)
	}
	return &SemanticStage{
		collection: collection,
		threshold:  semanticThreshold,
		topK:       3,
	}, nil
}

// LoadExemplars embeds and stores exemplar phrases. May be called more
// than once, e.g. once per seed file.
func (s *SemanticStage) LoadExemplars(ctx context.Context, exemplars []SemanticPattern) error {
	if len(exemplars) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(exemplars))
	for _, ex := range exemplars {
		docs = append(docs, chromem.Document{
			ID:      fmt.Sprintf("exemplar_%d", s.nextID),
			Content: strings.ToLower(ex.Text),
			Metadata: map[string]string{
				"category": ex.Category,
				"language": ex.Language,
				"severity": strconv.Itoa(ex.Severity),
			},
		})
		s.nextID++
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to embed exemplars: %w", err)
	}
	return nil
}

// Name implements Detector
func (s *SemanticStage) Name() string { return "semantic" }

// Inspect implements Detector. The top match decides: a benign exemplar
// above the threshold suppresses the message, a hostile one above the
// threshold flags it.
func (s *SemanticStage) Inspect(ctx context.Context, in *Inspection) []Finding {
	n := s.topK
	if count := s.collection.Count(); count < n {
		if count == 0 {
			return nil
		}
		n = count
	}

	results, err := s.collection.Query(ctx, strings.ToLower(in.Normalized), n, nil, nil)
	if err != nil {
		log.Printf("[WARN] Semantic stage query failed: %v", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Similarity > best.Similarity {
			best = r
		}
	}

	category := best.Metadata["category"]
	if best.Similarity < s.threshold || category == "benign" {
		return nil
	}

	severity := 70
	if v, err := strconv.Atoi(best.Metadata["severity"]); err == nil && v > 0 {
		severity = v
	}

	return []Finding{{
		Kind:     FindingSemantic,
		Pattern:  "semantic_" + category,
		Severity: severity,
		Language: best.Metadata["language"],
		Detail:   fmt.Sprintf("similar to known %s phrasing (%.2f)", category, best.Similarity),
	}}
}

// newOllamaEmbeddingFunc creates an embedding function backed by the
// Ollama embeddings endpoint
func newOllamaEmbeddingFunc(model, baseURL string) chromem.EmbeddingFunc {
	client := httputil.MediumClient()

	return func(ctx context.Context, text string) ([]float32, error) {
		reqBody := map[string]string{
			"model":  model,
			"prompt": text,
		}
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer httputil.DrainAndClose(resp.Body)

		if err := httputil.CheckResponse(resp, "ollama embedding"); err != nil {
			return nil, err
		}

		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		return result.Embedding, nil
	}
}
