package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"agentbox/internal/model"
	"agentbox/internal/store"
	"agentbox/pkg/fileutil"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deployment states from the state directory",
	RunE:  runStatus,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Show allocated port pairs from the state directory",
	RunE:  runPorts,
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
	portsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
}

// openStateReadOnly loads the records in the configured state directory
// without starting anything.
func openStateReadOnly(cmd *cobra.Command) (*store.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !fileutil.DirExists(cfg.StateDir) {
		return nil, fmt.Errorf("state directory %s does not exist", cfg.StateDir)
	}

	p, err := store.NewFilePersister(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	st := store.New(store.WithPersister(p), store.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	st.Load()
	return st, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStateReadOnly(cmd)
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), st.Stats(), st.List(), jsonOutput)
}

func runPorts(cmd *cobra.Command, args []string) error {
	st, err := openStateReadOnly(cmd)
	if err != nil {
		return err
	}
	return printPorts(cmd.OutOrStdout(), st.AllocatedPorts(), jsonOutput)
}

func printStatus(out io.Writer, stats store.Stats, records []*model.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"stats": stats, "deployments": records})
	}

	fmt.Fprintf(out, "%d deployments: %d active, %d building, %d failed, %d locked\n\n",
		stats.Total, stats.Active, stats.Building, stats.Failed, stats.Locked)
	if len(records) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tACTIVE\tPORTS\tHEALTH\tOPERATION\tUPDATED")
	for _, r := range records {
		ports := "-"
		if r.Ports != nil {
			ports = fmt.Sprintf("%d/%d", r.Ports.BluePort, r.Ports.GreenPort)
		}
		operation := "-"
		if r.CurrentOperation != nil {
			operation = *r.CurrentOperation
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID(), r.State, r.ActiveColor, ports, r.HealthStatus, operation, r.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printPorts(out io.Writer, owners []store.PortOwner, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(owners)
	}

	if len(owners) == 0 {
		fmt.Fprintln(out, "No ports allocated")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tDEPLOYMENT")
	for _, o := range owners {
		owner := o.DeploymentID
		if owner == "" {
			owner = "(reserved)"
		}
		fmt.Fprintf(tw, "%d\t%s\n", o.Port, owner)
	}
	return tw.Flush()
}
