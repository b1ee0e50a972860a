package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/ledger"
	"github.com/eonseed/perspt/internal/llm"
	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/plan"
	"github.com/eonseed/perspt/internal/tools"
)

// maxToolRounds bounds one speculation conversation
const maxToolRounds = 8

// speculate runs the actuator over one node and returns the merged file
// diffs of its writes. skipped is true when the speculator gate declined
// the attempt.
func (o *Orchestrator) speculate(ctx context.Context, node *plan.Node, feedback string) (diffs []ledger.FileDiff, skipped bool, err error) {
	contextFiles := o.readContextFiles(ctx, node)
	prompt := buildNodePrompt(node, contextFiles)
	if feedback != "" {
		prompt += "\n" + feedback
	}

	proceed, err := o.gateSpeculation(ctx, node, prompt)
	if err != nil {
		return nil, false, err
	}
	if !proceed {
		return nil, true, nil
	}

	messages := []*llm.Message{{Role: "user", Content: prompt}}
	byPath := make(map[string]*ledger.FileDiff)
	var order []string

	for round := 0; round < maxToolRounds; round++ {
		resp, err := o.complete(ctx, llm.TierActuator, &llm.CompletionRequest{
			Messages:     messages,
			SystemPrompt: actuatorSystemPrompt,
			Temperature:  o.cfg.Temperature,
			MaxTokens:    consts.DefaultMaxTokens,
		})
		if err != nil {
			o.revert(ctx, collectDiffs(byPath, order))
			return nil, false, err
		}

		if isDone(resp.Content) {
			return collectDiffs(byPath, order), false, nil
		}

		calls, err := tools.ParseCalls(resp.Content)
		if err != nil {
			// No parseable calls and no DONE: treat as finished to
			// avoid looping on prose.
			logger.Debug("orchestrator: actuator response had no tool calls: %v", err)
			return collectDiffs(byPath, order), false, nil
		}

		results := make([]*tools.Result, 0, len(calls))
		for _, call := range calls {
			result, err := o.executor.Execute(ctx, call)
			if err != nil {
				o.revert(ctx, collectDiffs(byPath, order))
				return nil, false, err
			}
			if result.Denied {
				// Denials consume the node's retry budget even when the
				// conversation continues.
				count := o.sess.RecordRetry(node.ID)
				logger.Warn("orchestrator: tool call denied on node %s (%s), retry budget at %d",
					node.ID, result.DeniedReason, count)
			}
			if result.FileDiff != nil {
				mergeDiff(byPath, &order, *result.FileDiff)
			}
			results = append(results, result)
		}

		payload, err := json.Marshal(results)
		if err != nil {
			o.revert(ctx, collectDiffs(byPath, order))
			return nil, false, err
		}
		messages = append(messages,
			&llm.Message{Role: "assistant", Content: resp.Content},
			&llm.Message{Role: "user", Content: "Tool results:\n" + string(payload) +
				"\nContinue with more tool calls, or respond DONE when the node is complete."},
		)
	}

	logger.Warn("orchestrator: node %s hit the tool round limit", node.ID)
	return collectDiffs(byPath, order), false, nil
}

// gateSpeculation consults the cheap speculator tier before an actuator
// attempt whose estimated cost is a large share of the remaining budget
func (o *Orchestrator) gateSpeculation(ctx context.Context, node *plan.Node, prompt string) (bool, error) {
	remaining := o.budget.RemainingUSD()
	if remaining < 0 {
		return true, nil
	}

	client, err := o.router.Client(llm.TierActuator)
	if err != nil {
		return false, err
	}
	model := client.GetModelName()
	estCost := llm.EstimateCost(model,
		llm.CountTokens(model, actuatorSystemPrompt+prompt), consts.DefaultMaxTokens)

	fraction := o.cfg.Budget.SpeculateCostFraction
	if fraction <= 0 {
		fraction = consts.DefaultSpeculateCostFraction
	}
	if estCost <= fraction*remaining {
		return true, nil
	}

	logger.Info("orchestrator: gating node %s (est $%.4f vs $%.4f remaining)", node.ID, estCost, remaining)
	resp, err := o.complete(ctx, llm.TierSpeculator, &llm.CompletionRequest{
		Messages:     []*llm.Message{{Role: "user", Content: buildSpeculatorPrompt(node, estCost, remaining)}},
		SystemPrompt: speculatorSystemPrompt,
		MaxTokens:    64,
	})
	if err != nil {
		return false, err
	}

	verdict := strings.ToUpper(strings.TrimSpace(resp.Content))
	if strings.HasPrefix(verdict, "PROCEED") {
		return true, nil
	}
	logger.Warn("orchestrator: speculator declined node %s: %s", node.ID, strings.TrimSpace(resp.Content))
	return false, nil
}

func (o *Orchestrator) readContextFiles(ctx context.Context, node *plan.Node) map[string]string {
	contents := make(map[string]string, len(node.ContextFiles))
	for _, path := range node.ContextFiles {
		data, err := o.fsys.ReadFile(ctx, path)
		if err != nil {
			logger.Debug("orchestrator: context file %s unavailable: %v", path, err)
			continue
		}
		if len(data) > consts.MaxFileReadSize {
			continue
		}
		contents[path] = string(data)
	}
	return contents
}

// mergeDiff coalesces repeated writes to one path: the first Before and
// the latest After describe the net change
func mergeDiff(byPath map[string]*ledger.FileDiff, order *[]string, d ledger.FileDiff) {
	if existing, ok := byPath[d.Path]; ok {
		existing.After = d.After
		return
	}
	copied := d
	byPath[d.Path] = &copied
	*order = append(*order, d.Path)
}

func collectDiffs(byPath map[string]*ledger.FileDiff, order []string) []ledger.FileDiff {
	diffs := make([]ledger.FileDiff, 0, len(order))
	for _, path := range order {
		d := byPath[path]
		if d.Before == d.After {
			continue
		}
		diffs = append(diffs, *d)
	}
	return diffs
}

func isDone(response string) bool {
	return strings.EqualFold(strings.TrimSpace(response), "DONE")
}
