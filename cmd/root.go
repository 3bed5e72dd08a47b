package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd はpetlensのルートコマンドを作成する
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "petlens",
		Short: "ペットの生体画像を撮影して登録するカメラツール",
		Long: `petlens はカメラからペットの顔写真を撮影し、ペットIDサーバーに
生体画像として登録するためのツールです。

HTTP APIでカメラを操作するサーバーと、コマンドラインからの撮影に対応しています。`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env があれば読み込む
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(
		newServeCmd(),
		newDevicesCmd(),
		newCaptureCmd(),
	)

	return cmd
}
