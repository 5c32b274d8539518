// Package agent drives a session from a user prompt to a terminal
// assistant message: it builds model input from stored history, invokes
// the provider, executes tool calls and persists every part along the way.
package agent

// Config describes one agent personality: its system prompt and the tools
// it may use.
type Config struct {
	Name        string
	System      string
	Temperature float64
	// Tools overrides tool availability; a tool mapped to false is
	// withheld from the model.
	Tools map[string]bool
}

const buildSystem = `You are a software engineering agent operating inside the user's repository.
Work autonomously: read code before changing it, prefer small verifiable steps,
and use the task list tools to plan multi-step work. When you are done, summarize
what changed and how it was verified.`

const planSystem = `You are a planning agent. Investigate the user's request using read-only
tools and produce a concrete plan. Do not modify any files or run commands
that change state.`

const compactionSystem = `You are summarizing a long conversation so it can continue in a fresh
context. Write a dense summary covering: what the user asked for, what has
been done so far, important technical decisions and constraints, and what
remains to be done. Do not add commentary; output only the summary.`

var builtinAgents = map[string]Config{
	"build": {
		Name:   "build",
		System: buildSystem,
	},
	"plan": {
		Name:   "plan",
		System: planSystem,
		Tools: map[string]bool{
			"write":     false,
			"edit":      false,
			"bash":      false,
			"todowrite": false,
		},
	},
	"compaction": {
		Name:        "compaction",
		System:      compactionSystem,
		Temperature: 0.3,
		Tools:       allToolsOff,
	},
}

// allToolsOff is a sentinel meaning "no tools at all".
var allToolsOff = map[string]bool{"*": false}

// resolveAgent returns the agent config for a name, defaulting to build.
func resolveAgent(name string) Config {
	if cfg, ok := builtinAgents[name]; ok {
		return cfg
	}
	return builtinAgents["build"]
}

// mergeTools layers per-request tool flags over the agent's own.
func mergeTools(agentTools, requestTools map[string]bool) map[string]bool {
	if len(agentTools) == 0 && len(requestTools) == 0 {
		return nil
	}
	out := make(map[string]bool, len(agentTools)+len(requestTools))
	for k, v := range agentTools {
		out[k] = v
	}
	for k, v := range requestTools {
		out[k] = v
	}
	return out
}
