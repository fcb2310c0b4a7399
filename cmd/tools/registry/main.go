// cmd/tools/registry/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"rental-docflow/internal/common/config"
	"rental-docflow/internal/common/validation"
	"rental-docflow/pkg/registry"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validatePath := validateCmd.String("path", "", "Registry file to validate (default: the embedded registry)")

	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listPath := listCmd.String("path", "", "Registry file to list (default: the embedded registry)")

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	exportPath := exportCmd.String("out", "configs/activity-registry.json", "Destination file")

	checkCmd := flag.NewFlagSet("check-config", flag.ExitOnError)
	checkPath := checkCmd.String("config", "configs/config.yaml", "Engine config file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		err = validate(*validatePath)
	case "list":
		listCmd.Parse(os.Args[2:])
		err = list(*listPath)
	case "export":
		exportCmd.Parse(os.Args[2:])
		err = export(*exportPath)
	case "check-config":
		checkCmd.Parse(os.Args[2:])
		err = checkConfig(*checkPath)
	case "help":
		help()
		return
	default:
		help()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func load(path string) (*registry.ActivityRegistry, error) {
	if path == "" {
		return registry.Default()
	}
	return registry.LoadRegistry(path)
}

// validate checks structure and compiles every input and output schema.
func validate(path string) error {
	reg, err := load(path)
	if err != nil {
		return err
	}
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	for _, a := range reg.Activities {
		if a.DisplayName == "" || a.Component == "" {
			return fmt.Errorf("activity %s: displayName and component are required", a.ID)
		}
		for name, schema := range map[string]map[string]interface{}{"input": a.InputSchema, "output": a.OutputSchema} {
			if len(schema) == 0 {
				continue
			}
			raw, err := json.Marshal(schema)
			if err != nil {
				return fmt.Errorf("activity %s: %s schema: %w", a.ID, name, err)
			}
			// Only compile errors count; the document is a placeholder.
			if _, err := validation.ValidateJSON(string(raw), []byte("{}")); err != nil {
				return fmt.Errorf("activity %s: %s schema does not compile: %w", a.ID, name, err)
			}
		}
	}

	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

func list(path string) error {
	reg, err := load(path)
	if err != nil {
		return err
	}
	activities := append([]registry.Activity(nil), reg.Activities...)
	sort.Slice(activities, func(i, j int) bool { return activities[i].TaskType < activities[j].TaskType })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK TYPE\tCOMPONENT\tTIMEOUT\tRETRIES\tERROR CODES")
	for _, a := range activities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			a.TaskType, a.Component, a.Timeout, a.Retries, strings.Join(a.ErrorCodes, ","))
	}
	return w.Flush()
}

// export writes the embedded registry to disk for BPMN tooling.
func export(path string) error {
	reg, err := registry.Default()
	if err != nil {
		return err
	}
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	fmt.Printf("Wrote %d activities to %s\n", len(reg.Activities), path)
	return nil
}

// checkConfig reports configured workers without an activity and activities
// without a worker entry.
func checkConfig(path string) error {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	reg, err := registry.Default()
	if err != nil {
		return err
	}

	var problems []string
	for taskType := range cfg.Workers {
		if _, ok := reg.Find(taskType); !ok {
			problems = append(problems, fmt.Sprintf("worker %s has no registered activity", taskType))
		}
	}
	for _, a := range reg.Activities {
		if _, ok := cfg.Workers[a.TaskType]; !ok {
			problems = append(problems, fmt.Sprintf("activity %s has no worker config", a.TaskType))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("config and registry disagree:\n  %s", strings.Join(problems, "\n  "))
	}
	fmt.Printf("Config matches registry (%d workers).\n", len(cfg.Workers))
	return nil
}

func help() {
	fmt.Println(`
Usage: registry <command> [flags]

Commands:
  validate      Validate a registry file or the embedded registry
  list          List registered activities
  export        Write the embedded registry to a file
  check-config  Cross-check worker config against the registry
  help          Show this help message

Examples:
  registry validate
  registry validate -path configs/activity-registry.json
  registry export -out configs/activity-registry.json
  registry check-config -config configs/config.yaml`)
}
