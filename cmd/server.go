package cmd

import (
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 中继服务",
	Long:  `启动 hlsrelay 的 HTTP 服务，提供下载链接签发、流式兑换、曲目信息查询和运维接口`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
