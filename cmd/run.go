package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/gocode/internal/agent"
	"github.com/nextlevelbuilder/gocode/internal/bus"
	"github.com/nextlevelbuilder/gocode/internal/message"
	"github.com/nextlevelbuilder/gocode/internal/permission"
	"github.com/nextlevelbuilder/gocode/internal/session"
)

var runFlags struct {
	session string
	agent   string
	model   string
	schema  string
	yes     bool
	quiet   bool
}

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Send a prompt to the agent and stream the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.session, "session", "s", "", "existing session id (default: new session)")
	runCmd.Flags().StringVarP(&runFlags.agent, "agent", "a", "", "agent to use (build, plan)")
	runCmd.Flags().StringVarP(&runFlags.model, "model", "m", "", "model as provider/model, e.g. anthropic/claude-sonnet-4-5")
	runCmd.Flags().StringVar(&runFlags.schema, "schema", "", "JSON schema file; the reply becomes a matching JSON document")
	runCmd.Flags().BoolVarP(&runFlags.yes, "yes", "y", false, "auto-approve permission prompts")
	runCmd.Flags().BoolVarP(&runFlags.quiet, "quiet", "q", false, "suppress streaming; print only the final text")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sess, err := resolveSession(ctx, a)
	if err != nil {
		return err
	}

	in := agent.PromptInput{
		SessionID: sess.ID,
		Agent:     runFlags.agent,
		Text:      strings.Join(args, " "),
	}
	if in.Model, err = parseModelFlag(runFlags.model); err != nil {
		return err
	}
	if in.Format, err = loadSchemaFlag(runFlags.schema); err != nil {
		return err
	}

	if !runFlags.quiet {
		defer streamDeltas(a.bus, sess.ID)()
	}
	defer answerPermissions(a)()

	// Ctrl-C aborts the running turn instead of killing the process hard.
	go func() {
		<-ctx.Done()
		a.runner.Cancel(sess.ID)
	}()

	res, err := a.runner.Prompt(ctx, in)
	if !runFlags.quiet {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if res.Info.Structured != nil {
		out, merr := json.MarshalIndent(res.Info.Structured, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Println(string(out))
	} else if runFlags.quiet {
		fmt.Println(assistantOutput(res))
	}

	fmt.Fprintf(os.Stderr, "session %s  tokens in/out %d/%d  cost $%.4f\n",
		sess.ID, res.Info.Tokens.Input, res.Info.Tokens.Output, res.Info.Cost)
	return nil
}

func resolveSession(ctx context.Context, a *app) (*session.Info, error) {
	if runFlags.session != "" {
		return a.store.Get(ctx, runFlags.session)
	}
	return a.store.Create(ctx, session.CreateOptions{Directory: a.dir})
}

func parseModelFlag(flag string) (message.ModelRef, error) {
	if flag == "" {
		return message.ModelRef{}, nil
	}
	provider, model, ok := strings.Cut(flag, "/")
	if !ok {
		return message.ModelRef{}, fmt.Errorf("model must be provider/model, got %q", flag)
	}
	return message.ModelRef{ProviderID: provider, ModelID: model}, nil
}

func loadSchemaFlag(path string) (*message.OutputFormat, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &message.OutputFormat{Type: "json_schema", Schema: schema}, nil
}

// streamDeltas prints assistant text deltas for the session as they arrive.
func streamDeltas(b *bus.Bus, sessionID string) func() {
	return b.Subscribe(session.EventPartDelta, func(ev bus.Event) {
		payload, ok := ev.Payload.(map[string]string)
		if !ok || payload["sessionID"] != sessionID {
			return
		}
		fmt.Print(payload["delta"])
	})
}

// answerPermissions resolves permission questions on the terminal. The
// handler runs on the asking tool's goroutine, so reading stdin here
// blocks exactly the call that is waiting for an answer.
func answerPermissions(a *app) func() {
	reader := bufio.NewReader(os.Stdin)
	return a.bus.Subscribe(permission.EventRequested, func(ev bus.Event) {
		q, ok := ev.Payload.(permission.Question)
		if !ok {
			return
		}
		if runFlags.yes {
			a.perms.Answer(permission.Reply{RequestID: q.RequestID, Action: permission.Allow})
			return
		}
		fmt.Fprintf(os.Stderr, "\nAllow %s", q.Permission)
		if q.Pattern != "" {
			fmt.Fprintf(os.Stderr, " on %s", q.Pattern)
		}
		fmt.Fprint(os.Stderr, "? [y/N/always] ")

		line, _ := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		reply := permission.Reply{RequestID: q.RequestID, Action: permission.Deny}
		switch answer {
		case "y", "yes":
			reply.Action = permission.Allow
		case "a", "always":
			reply.Action = permission.Allow
			reply.Remember = true
		}
		a.perms.Answer(reply)
	})
}

func assistantOutput(res *message.WithParts) string {
	var texts []string
	for _, p := range res.Parts {
		if tp, ok := p.(*message.TextPart); ok && !tp.Synthetic {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}
