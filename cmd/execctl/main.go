// Command execctl is out-of-band store inspection and repair: it talks
// directly to the SQLite file and never goes through the HTTP surface.
// This is ops tooling, not part of the executor's control flow.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/store"
)

func main() {
	dbPath := flag.String("db", "planexec.db", "path to the executor's SQLite database")
	jsonOutput := flag.Bool("json", false, "output as JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	s, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	switch args[0] {
	case "list-running":
		listRunning(s, *jsonOutput)
	case "force-fail":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: execctl force-fail <execution-id> <reason>")
			os.Exit(1)
		}
		forceFail(s, args[1], args[2])
	case "vacuum":
		if err := s.Vacuum(); err != nil {
			fmt.Fprintf(os.Stderr, "vacuum failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("vacuum complete")
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: execctl [-db path] [-json] <command> [args...]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  list-running              list every execution currently marked running")
	fmt.Fprintln(os.Stderr, "  force-fail <eid> <reason> force a running execution and its node to failed")
	fmt.Fprintln(os.Stderr, "  vacuum                    reclaim space freed by deleted rows")
}

func listRunning(s *store.Store, asJSON bool) {
	running, err := s.RunningExecutions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list running executions: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		json.NewEncoder(os.Stdout).Encode(running)
		return
	}

	if len(running) == 0 {
		fmt.Println("no running executions")
		return
	}
	for _, re := range running {
		fmt.Printf("%s  node=%s  blueprint=%s  started=%s  pid=%v\n",
			re.ExecutionID, re.NodeID, re.BlueprintID, re.StartedAt.Format("2006-01-02 15:04:05"), re.CLIPid)
	}
}

func forceFail(s *store.Store, executionID, reason string) {
	exec, err := s.GetExecution(executionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "execution not found: %v\n", err)
		os.Exit(1)
	}

	exec.Status = model.ExecStatusFailed
	exec.FailureReason = model.FailureError
	exec.FailureDetail = reason
	exec.OutputSummary = reason
	if err := s.FinishExecution(exec); err != nil {
		fmt.Fprintf(os.Stderr, "failed to finish execution: %v\n", err)
		os.Exit(1)
	}
	if err := s.UpdateNodeStatus(exec.NodeID, model.NodeFailed, reason); err != nil {
		fmt.Fprintf(os.Stderr, "failed to fail node: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("execution %s and node %s marked failed\n", executionID, exec.NodeID)
}
