package cmd

import (
	"fmt"

	"LoopFM/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUserID   int64
	tokenUsername string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发播放控制用的 JWT",
	Long:  `用 JWT_SECRET 为指定用户签发 token，频道所有者凭此调用控制接口。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID <= 0 {
			return fmt.Errorf("需要指定 --user")
		}
		token, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry).GenerateToken(tokenUserID, tokenUsername)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Int64Var(&tokenUserID, "user", 0, "用户 ID")
	tokenCmd.Flags().StringVar(&tokenUsername, "name", "", "用户名")
}
