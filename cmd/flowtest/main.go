// Command flowtest replays a call-flow agent definition against simulated
// user input from the terminal, using the same Interpreter code path as a
// live call.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Radicalscale/virevo/internal/flow"
	"github.com/Radicalscale/virevo/pkg/docstore"
	"github.com/Radicalscale/virevo/pkg/provider/llm"
	"github.com/Radicalscale/virevo/pkg/provider/llm/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	agentPath := flag.String("agent", "", "path to an agent JSON record (docstore.AgentRecord shape)")
	flag.Parse()

	if *agentPath == "" {
		fmt.Fprintln(os.Stderr, "flowtest: -agent is required")
		return 1
	}

	raw, err := os.ReadFile(*agentPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowtest: %v\n", err)
		return 1
	}

	var rec docstore.AgentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		fmt.Fprintf(os.Stderr, "flowtest: decode agent record: %v\n", err)
		return 1
	}

	cfg, err := flow.FromRecord(&rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowtest: %v\n", err)
		return 1
	}

	llmProvider := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "-1"}}
	interp := flow.NewInterpreter(llmProvider, flow.NewWebhookExecutor(nil), nil)
	tester := flow.NewTester(cfg, interp, nil)

	fmt.Println("flowtest: type user responses, Ctrl-D to quit. LLM decisions use a mock provider.")
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		step := tester.Step(ctx, scanner.Text())
		printStep(step)
		if step.ShouldEndCall {
			fmt.Println("flowtest: call ended")
			break
		}
	}
	return 0
}

func printStep(step flow.StepResult) {
	fmt.Printf("node:      %s (%s)\n", step.NodeID, step.NodeLabel)
	if step.Err != "" {
		fmt.Printf("error:     %s\n", step.Err)
		return
	}
	fmt.Printf("response:  %s\n", step.ResponseText)
	fmt.Printf("next node: %s\n", step.NextNodeID)
	fmt.Printf("variables: %v\n", step.Variables)
	if step.Transferred {
		fmt.Println("transfer requested")
	}
}
