package collab

import (
	"context"
	"fmt"

	"github.com/quayside/waverunner/internal/impact"
)

// NewStubGenerator returns a Generator that materializes every declared
// impact with placeholder content. It exists so the engine can be driven
// end to end (CLI dry runs, integration tests) without a real generation
// service.
func NewStubGenerator() Generator {
	return GeneratorFunc(func(ctx context.Context, req Request, hints []Hint) (*Content, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content := &Content{Files: make(map[string][]byte)}
		for _, im := range req.Impacts {
			switch im.Operation {
			case impact.OpCreate, impact.OpUpdate:
				content.Files[im.Path] = []byte(fmt.Sprintf("generated by task %s (attempt %d)\n", req.TaskID, req.Attempt))
			case impact.OpDelete:
				content.Deletes = append(content.Deletes, im.Path)
			}
		}
		return content, nil
	})
}
