package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/llm"
	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/plan"
)

// sheafify asks the architect tier to decompose the task into a plan.
// A malformed response is re-asked a bounded number of times with the
// parse error attached.
func (o *Orchestrator) sheafify(ctx context.Context, task string) (*plan.TaskPlan, error) {
	listing := o.workspaceListing(ctx)

	messages := []*llm.Message{
		{Role: "user", Content: buildPlanPrompt(task, listing)},
	}

	var lastErr error
	for attempt := 0; attempt < consts.DefaultMaxPlanParseAttempts; attempt++ {
		resp, err := o.complete(ctx, llm.TierArchitect, &llm.CompletionRequest{
			Messages:     messages,
			SystemPrompt: architectSystemPrompt,
			Temperature:  o.cfg.Temperature,
			MaxTokens:    consts.DefaultMaxTokens,
		})
		if err != nil {
			return nil, err
		}

		taskPlan, err := plan.Parse(resp.Content)
		if err == nil {
			taskPlan.Task = task
			logger.Info("orchestrator: plan with %d nodes", len(taskPlan.Nodes))
			return taskPlan, nil
		}

		lastErr = err
		logger.Warn("orchestrator: plan attempt %d unusable: %v", attempt+1, err)
		messages = append(messages,
			&llm.Message{Role: "assistant", Content: resp.Content},
			&llm.Message{Role: "user", Content: fmt.Sprintf(
				"That plan was not usable: %v\nRespond again with only the corrected JSON object.", err)},
		)
	}

	return nil, fmt.Errorf("task decomposition failed after %d attempts: %w",
		consts.DefaultMaxPlanParseAttempts, lastErr)
}

// workspaceListing collects top-level entries to orient the architect
func (o *Orchestrator) workspaceListing(ctx context.Context) []string {
	infos, err := o.fsys.ListDirFiltered(ctx, ".")
	if err != nil {
		logger.Debug("orchestrator: workspace listing unavailable: %v", err)
		return nil
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		name := filepath.Base(info.Path)
		if info.IsDir {
			name += "/"
		}
		names = append(names, name)
	}
	return names
}
