package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func reportCommand() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Manage saved reports",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved reports, newest first",
		Args:  cobra.NoArgs,
		RunE:  runReportList,
	}

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a saved report",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportShow,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a saved report",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportDelete,
	}

	reportCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return reportCmd
}

func runReportList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	st, err := openStore(a)
	if err != nil {
		return err
	}
	reports, err := st.List()
	if err != nil {
		return err
	}

	if outputFile != "" || pretty {
		w, err := openOutput()
		if err != nil {
			return err
		}
		defer w.Close()
		return w.Write(reports)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSITE\tPAGES\tPAGE TYPES")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", r.ID, r.CreatedAt.Local().Format(time.DateTime), r.SiteURL, r.Pages, r.PageTypes)
	}
	return tw.Flush()
}

func runReportShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	st, err := openStore(a)
	if err != nil {
		return err
	}
	report, err := st.Get(args[0])
	if err != nil {
		return fmt.Errorf("report %s: %w", args[0], err)
	}

	w, err := openOutput()
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Write(report)
}

func runReportDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	st, err := openStore(a)
	if err != nil {
		return err
	}
	if err := st.Delete(args[0]); err != nil {
		return fmt.Errorf("report %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", args[0])
	return nil
}
