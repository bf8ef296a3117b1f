package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/kazz187/tasksync/internal/cronregistry"
	"github.com/kazz187/tasksync/internal/task"
)

var statusColors = map[task.Status]*color.Color{
	task.StatusRecurring:  color.New(color.FgCyan),
	task.StatusInProgress: color.New(color.FgYellow),
	task.StatusReview:     color.New(color.FgGreen),
	task.StatusBacklog:    color.New(color.FgRed),
}

func colorStatus(s task.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(s)
	}
	return string(s)
}

func runPull(ctx context.Context, d *deps, asJSON bool) error {
	tasks, err := d.bridge.Pull(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSCHEDULE\tSTATUS\tPRIORITY\tAGENT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Schedule, colorStatus(t.Status), t.Priority, t.AgentID)
	}
	return w.Flush()
}

func runPush(ctx context.Context, d *deps, statusOwned bool) error {
	tasks := d.adapter.Tasks.GetAll(ctx)
	opts := cronregistry.PushOptions{StatusOwned: []string{}}
	if statusOwned {
		opts.StatusOwned = nil
	}
	res, err := d.bridge.Push(ctx, tasks, opts)
	if err != nil {
		return err
	}
	fmt.Printf("created %d, updated %d, unchanged %d", res.Created, res.Updated, res.Unchanged)
	if !res.Written {
		fmt.Print(" (registry not rewritten)")
	}
	fmt.Println()
	for _, id := range res.Skipped {
		fmt.Printf("skipped %s: registry entry is not a valid job\n", id)
	}
	return nil
}

func runStats(ctx context.Context, d *deps) error {
	jobs, stats, err := d.bridge.Jobs(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("registry: %s\n", d.registry.Path())
	fmt.Printf("total %d, active %d, inactive %d, errors %d\n", stats.Total, stats.Active, stats.Inactive, stats.Errors)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tSTATUS\tENABLED\tLAST RUN")
	for _, j := range jobs {
		lastRun := "-"
		if j.LastRun != nil {
			lastRun = *j.LastRun
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", j.ID, j.Name, j.Schedule, j.Status, j.Enabled, lastRun)
	}
	return w.Flush()
}
