package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"VoiceFM/server"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发控制接口令牌",
	Long:  `使用 JWT_SECRET 签发 HS256 令牌，请求控制接口时放入 Authorization: Bearer <token>。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(false)
		if cfg.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET 未配置")
		}
		tok, err := server.IssueToken(cfg.JWTSecret, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "operator", "令牌主体")
	tokenCmd.Flags().DurationVarP(&tokenTTL, "ttl", "e", 30*24*time.Hour, "有效期，0 表示不过期")
}
