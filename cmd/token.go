package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hlsrelay/config"
	"hlsrelay/core/auth"
	"hlsrelay/core/signer"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发运维令牌",
	Long:  `签发访问 /admin 接口使用的 Bearer 令牌。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.SigningSecret == "" {
			return errors.New("SIGNING_SECRET is required")
		}
		key, err := signer.DeriveKey([]byte(cfg.SigningSecret), signer.LabelOperatorToken)
		if err != nil {
			return err
		}

		token, err := auth.NewTokenIssuer(key).Issue(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "令牌主体，写入审计日志")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "令牌有效期")
}
