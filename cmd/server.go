package cmd

import (
	"LoopFM/server"

	"github.com/spf13/cobra"
)

var (
	serverPort    string
	serverCatalog string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动LoopFM服务器",
	Long:  `启动HTTP服务器，提供频道查询、播放控制和直播流接口`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serverPort != "" {
			cfg.ServerPort = serverPort
		}
		if serverCatalog != "" {
			cfg.CatalogPath = serverCatalog
		}
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVarP(&serverPort, "port", "p", "", "监听端口，默认读取 SERVER_PORT")
	serverCmd.Flags().StringVarP(&serverCatalog, "catalog", "c", "", "本地频道目录文件（TOML），设置后不连接 MySQL")
}
