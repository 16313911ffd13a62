package main

import (
	"errors"
	"log/slog"
	"strings"

	"filecollection/internal/client"
	"filecollection/internal/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// cli 保存全局参数解析后的结果，子命令通过它拿到客户端。
type cli struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "filectl",
		Short:         "Command line client for an owner-scoped file collection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initialize(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.filectl.yaml)")
	flags.String("server", "http://localhost:8080", "server base URL")
	flags.String("collection", "myData", "collection name")
	flags.String("token", "", "bearer token (or FILECTL_TOKEN)")
	flags.String("log-level", "warn", "log level")
	flags.Bool("no-color", false, "disable colored output")

	root.AddCommand(newUploadCommand(c))
	root.AddCommand(newRemoveCommand(c))
	root.AddCommand(newGetCommand(c))
	root.AddCommand(newWatchCommand(c))
	root.AddCommand(newTokenCommand(c))
	return root
}

func (c *cli) initialize(cmd *cobra.Command) error {
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	c.v.SetEnvPrefix("FILECTL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if file := c.v.GetString("config"); file != "" {
		c.v.SetConfigFile(file)
	} else {
		c.v.SetConfigName(".filectl")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath("$HOME")
		c.v.AddConfigPath(".")
	}
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}

	if c.v.GetBool("no-color") {
		color.NoColor = true
	}
	c.logger = logging.NewWithWriter(cmd.ErrOrStderr(), c.v.GetString("log-level"), "text")
	return nil
}

func (c *cli) client() (*client.Client, error) {
	token := c.v.GetString("token")
	if token == "" {
		return nil, errors.New("no token: pass --token or set FILECTL_TOKEN")
	}
	return client.New(c.v.GetString("server"), c.v.GetString("collection"), token), nil
}
