package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskmesh/taskmesh-go/pkg/agent"
	"github.com/taskmesh/taskmesh-go/pkg/auth"
	"github.com/taskmesh/taskmesh-go/pkg/handler"
	"github.com/taskmesh/taskmesh-go/pkg/service"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	s3store "github.com/taskmesh/taskmesh-go/pkg/stores/s3"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

var (
	portFlag int
	hostFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the task protocol server",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := buildRegistry()

			store, err := buildStore(cmd.Context())
			if err != nil {
				return err
			}

			h := handler.New(store, registry, handler.Config{
				Name:        viper.GetString("server.name"),
				Description: viper.GetString("server.description"),
				Version:     viper.GetString("server.version"),
				Cards:       buildCards(registry),
			})

			opts := []service.Option{
				service.WithAddr(fmt.Sprintf("%s:%d", hostFlag, portFlag)),
			}

			if checker := buildChecker(); checker != nil {
				opts = append(opts, service.WithAuth(checker))
			}

			srv := service.NewTaskServer(h, opts...)

			log.Info("serving", "host", hostFlag, "port", portFlag)

			return srv.Start()
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 3210, "Port to serve on")
	serveCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")
}

/*
buildRegistry registers every agent named in the configuration.  Only the
echo agent ships in-tree; other agents register themselves when embedding
the server as a library.
*/
func buildRegistry() *agent.Registry {
	registry := agent.NewRegistry()

	for key := range viper.GetStringMap("agents") {
		registry.Register(key, agent.NewEchoAgent())
		log.Info("registered agent", "id", key)
	}

	if len(registry.IDs()) == 0 {
		registry.Register("echo", agent.NewEchoAgent())
	}

	return registry
}

func buildCards(registry *agent.Registry) []taskmesh.AgentCard {
	ids := registry.IDs()
	cards := make([]taskmesh.AgentCard, 0, len(ids))

	for _, id := range ids {
		cards = append(cards, taskmesh.NewAgentCardFromConfig(id))
	}

	return cards
}

func buildStore(ctx context.Context) (stores.TaskStore, error) {
	switch driver := viper.GetString("store.driver"); driver {
	case "", "memory":
		opts := []stores.InMemoryOption{}

		if retention := viper.GetDuration("store.retention"); retention > 0 {
			opts = append(opts, stores.WithRetention(retention))
		}
		if capacity := viper.GetInt("store.max_messages"); capacity > 0 {
			opts = append(opts, stores.WithMaxMessages(capacity))
		}

		return stores.NewInMemoryTaskStore(opts...), nil
	case "s3":
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		conn, err := s3store.NewConn(connCtx, s3store.ConfigFromViper())
		if err != nil {
			return nil, fmt.Errorf("failed to connect s3 store: %w", err)
		}

		opts := []s3store.Option{}

		if capacity := viper.GetInt("store.max_messages"); capacity > 0 {
			opts = append(opts, s3store.WithMaxMessages(capacity))
		}

		return s3store.NewStore(conn, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func buildChecker() auth.Checker {
	switch mode := viper.GetString("auth.mode"); mode {
	case "", "none":
		return nil
	case "api_key":
		return auth.APIKeyAuth{Key: viper.GetString("auth.api_key")}
	case "bearer":
		return auth.BearerAuth{Token: viper.GetString("auth.bearer_token")}
	case "jwt":
		key := []byte(viper.GetString("auth.jwt_signing_key"))
		return auth.TokenAuth{Service: auth.NewService(key)}
	default:
		log.Warn("unknown auth mode, serving unauthenticated", "mode", mode)
		return nil
	}
}

var longServe = `
Serve the task protocol over REST and SSE.

Examples:
  # Serve on port 8080
  taskmesh-go serve --port 8080

  # Serve bound to localhost only
  taskmesh-go serve --host 127.0.0.1
`
