package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newGetCommand(c *cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get MD5",
		Short: "Download a completed file by its content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}

			target := output
			if target == "" {
				target = args[0]
			}
			tmp, err := os.CreateTemp(filepath.Dir(target), ".filectl-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())

			n, name, err := cl.Download(cmd.Context(), args[0], tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("download %s: %w", args[0], err)
			}

			// 未指定输出路径时使用服务端返回的文件名
			if output == "" && name != "" {
				target = filepath.Join(filepath.Dir(target), filepath.Base(name))
			}
			if err := os.Rename(tmp.Name(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", green("saved"), target, humanize.IBytes(uint64(n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: server filename)")
	return cmd
}
