package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/badya367/taskmanager/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var tasks []task.Task
		if err := doRequest(cmd.Context(), http.MethodGet, "/tasks", nil, &tasks); err != nil {
			return err
		}
		return printTasks(cmd.OutOrStdout(), tasks...)
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var t task.Task
		if err := doRequest(cmd.Context(), http.MethodGet, taskPath(id), nil, &t); err != nil {
			return err
		}
		return printTask(cmd.OutOrStdout(), t)
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	Example: `  taskctl task create --title "Write report" --user-id 7
  taskctl task create --title "Ship it" --status IN_PROGRESS`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := inputFromFlags(cmd, task.Input{})
		if err != nil {
			return err
		}
		var t task.Task
		if err := doRequest(cmd.Context(), http.MethodPost, "/tasks", in, &t); err != nil {
			return err
		}
		return printTask(cmd.OutOrStdout(), t)
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task",
	Long: `Update a task. Fields not given as flags keep their current value.
Changing --status makes the server publish a status-change notification.`,
	Example: `  taskctl task update 42 --status DONE`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var current task.Task
		if err := doRequest(cmd.Context(), http.MethodGet, taskPath(id), nil, &current); err != nil {
			return err
		}
		in, err := inputFromFlags(cmd, task.Input{
			Title:       current.Title,
			Description: current.Description,
			UserID:      current.UserID,
			Status:      current.Status,
		})
		if err != nil {
			return err
		}
		var t task.Task
		if err := doRequest(cmd.Context(), http.MethodPut, taskPath(id), in, &t); err != nil {
			return err
		}
		return printTask(cmd.OutOrStdout(), t)
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := doRequest(cmd.Context(), http.MethodDelete, taskPath(id), nil, nil); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %d\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskListCmd, taskGetCmd, taskCreateCmd, taskUpdateCmd, taskDeleteCmd)

	for _, c := range []*cobra.Command{taskCreateCmd, taskUpdateCmd} {
		c.Flags().String("title", "", "task title")
		c.Flags().String("description", "", "task description")
		c.Flags().Int64("user-id", 0, "owner user id")
		c.Flags().String("status", "", "status: NEW, IN_PROGRESS or DONE")
	}
	_ = taskCreateCmd.MarkFlagRequired("title")
}

// inputFromFlags overlays the flags the user set onto base.
func inputFromFlags(cmd *cobra.Command, base task.Input) (task.Input, error) {
	flags := cmd.Flags()
	in := base
	if flags.Changed("title") {
		in.Title, _ = flags.GetString("title")
	}
	if flags.Changed("description") {
		in.Description, _ = flags.GetString("description")
	}
	if flags.Changed("user-id") {
		in.UserID, _ = flags.GetInt64("user-id")
	}
	if flags.Changed("status") {
		raw, _ := flags.GetString("status")
		st, err := task.ParseStatus(raw)
		if err != nil {
			return task.Input{}, err
		}
		in.Status = st
	}
	return in, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func taskPath(id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}

func printTask(w io.Writer, t task.Task) error {
	if outputJSON {
		return printJSON(w, t)
	}
	return printTasks(w, t)
}

func printTasks(w io.Writer, tasks ...task.Task) error {
	if outputJSON {
		if tasks == nil {
			tasks = []task.Task{}
		}
		return printJSON(w, tasks)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tUSER\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", t.ID, t.Status, t.UserID, t.Title)
	}
	return tw.Flush()
}
