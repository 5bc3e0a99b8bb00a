package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/lk2023060901/danmu-chat/application"
	"github.com/lk2023060901/danmu-chat/internal/chat/client"
	"github.com/lk2023060901/danmu-chat/internal/chat/server"
	"github.com/lk2023060901/danmu-chat/internal/network/connector"
)

type flags struct {
	config string
	host   string
	port   int
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:          "chatd",
		Short:        "Multi-user TCP chat server and terminal client",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&f.config, "config", "", "config file path (default ./config.yaml or $CHAT_CONFIG_FILE_PATH)")
	cmd.PersistentFlags().StringVar(&f.host, "host", server.DefaultHost, "server host")
	cmd.PersistentFlags().IntVar(&f.port, "port", server.DefaultPort, "server port")

	cmd.AddCommand(serverCmd(f), clientCmd(f))
	return cmd
}

func serverCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := application.New(f.config)
			if err := app.Init(); err != nil {
				return err
			}
			cfg, err := app.ServerConfig()
			if err != nil {
				return err
			}
			// 命令行参数只在显式给出时覆盖配置文件与环境变量。
			if cmd.Flags().Changed("host") {
				cfg.Host = f.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = f.port
			}
			return app.Serve(cmd.Context(), cfg)
		},
	}
}

func clientCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "Connect to a chat server from this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := client.New(connector.NewTCPConnector(connector.Config{}), os.Stdin, cmd.OutOrStdout())
			err := c.Run(ctx, net.JoinHostPort(f.host, strconv.Itoa(f.port)))
			cmd.Println("Chat session ended. Goodbye!")
			return err
		},
	}
}
