package ollama

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

var CompareModels = []string{"llama3.2", "deepseek-r1:8b", "llava:latest", "gemma2:2b"}

// CompareResult Answer of one model
type CompareResult struct {
	Model    string
	Response string
	Duration time.Duration
	Err      error
}

// Compare Send prompt to all models, at most concurrency at a time, results follow the order of models.
// A failing model does not stop the others, its error is kept in its result.
func Compare(ctx context.Context, client *Client, prompt string, models []string, concurrency int) []CompareResult {
	results := make([]CompareResult, len(models))
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, model := range models {
		g.Go(func() error {
			start := time.Now()
			response, err := client.Generate(ctx, GenerateRequest{Model: model, Prompt: prompt})
			results[i] = CompareResult{Model: model, Duration: time.Since(start), Err: err}
			if err == nil {
				results[i].Response = response.Response
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
