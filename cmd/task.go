package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh-go/pkg/client"
	"github.com/taskmesh/taskmesh-go/pkg/handler"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

var (
	serverFlag string
	agentFlag  string
	apiKeyFlag string
	bearerFlag string
	statusFlag string
	limitFlag  int
	offsetFlag int

	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Drive a remote task server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	sendCmd = &cobra.Command{
		Use:   "send [text]",
		Short: "Create a task and wait for the agent's reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := taskmesh.NewTextMessage(taskmesh.RoleUser, strings.Join(args, " "))

			task, err := buildClient().CreateTask(cmd.Context(), handler.CreateTaskRequest{
				AgentID: agentFlag,
				Message: &msg,
			})
			if err != nil {
				return err
			}

			fmt.Println(task)

			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [task-id]",
		Short: "Fetch a task by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := buildClient().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Println(task)

			return nil
		},
	}

	replyCmd = &cobra.Command{
		Use:   "reply [task-id] [text]",
		Short: "Continue a task thread with another message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := taskmesh.NewTextMessage(
				taskmesh.RoleUser, strings.Join(args[1:], " "),
			)

			task, err := buildClient().AddMessage(cmd.Context(), args[0], msg)
			if err != nil {
				return err
			}

			fmt.Println(task)

			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := buildClient().ListTasks(cmd.Context(), stores.TaskFilter{
				Status:  taskmesh.TaskStatus(statusFlag),
				AgentID: agentFlag,
				Limit:   limitFlag,
				Offset:  offsetFlag,
			})
			if err != nil {
				return err
			}

			for i := range list.Tasks {
				fmt.Println(&list.Tasks[i])
			}

			fmt.Printf("%d of %d task(s)\n", len(list.Tasks), list.Total)

			return nil
		},
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel [task-id]",
		Short: "Cancel a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := buildClient().CancelTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Println(task)

			return nil
		},
	}

	streamCmd = &cobra.Command{
		Use:   "stream [text]",
		Short: "Create a task and follow its events live",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := taskmesh.NewTextMessage(taskmesh.RoleUser, strings.Join(args, " "))

			events, err := buildClient().Stream(cmd.Context(), handler.CreateTaskRequest{
				AgentID: agentFlag,
				Message: &msg,
				Stream:  true,
			})
			if err != nil {
				return err
			}

			for ev := range events {
				printEvent(ev)
			}

			return nil
		},
	}

	capsCmd = &cobra.Command{
		Use:   "capabilities",
		Short: "Show the server's discovery document",
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := buildClient().Capabilities(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println(caps)

			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(sendCmd, getCmd, replyCmd, listCmd, cancelCmd, streamCmd, capsCmd)

	taskCmd.PersistentFlags().StringVarP(
		&serverFlag, "server", "s", "http://localhost:3210", "Task server base URL",
	)
	taskCmd.PersistentFlags().StringVarP(
		&agentFlag, "agent", "a", "echo", "Agent id to address",
	)
	taskCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "X-API-Key header value")
	taskCmd.PersistentFlags().StringVar(&bearerFlag, "bearer", "", "Bearer token")

	listCmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status")
	listCmd.Flags().IntVar(&limitFlag, "limit", 0, "Page size")
	listCmd.Flags().IntVar(&offsetFlag, "offset", 0, "Page offset")
}

func buildClient() *client.Client {
	opts := []client.Option{}

	if apiKeyFlag != "" {
		opts = append(opts, client.WithHeader("X-API-Key", apiKeyFlag))
	}
	if bearerFlag != "" {
		opts = append(opts, client.WithHeader("Authorization", "Bearer "+bearerFlag))
	}

	return client.New(serverFlag, opts...)
}

func printEvent(ev taskmesh.StreamEvent) {
	switch ev.Type {
	case taskmesh.EventTypeStatus:
		fmt.Printf("[%s] %s\n", ev.Type, ev.Status)
	case taskmesh.EventTypeMessage:
		if ev.Part != nil && ev.Part.Type == taskmesh.PartTypeText {
			fmt.Print(ev.Part.Text)
		} else if ev.Part != nil {
			fmt.Printf("[%s part]\n", ev.Part.Type)
		}
	case taskmesh.EventTypeError:
		fmt.Printf("\n[error] %s\n", ev.Error)
	case taskmesh.EventTypeComplete:
		fmt.Printf("\n%s\n", ev.Task)
	}
}
