package cmd

import (
	"github.com/spf13/cobra"

	"petlens/internal/notify"
	"petlens/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "カメラを操作するHTTPサーバーを起動する",
		Example: `  # 設定ファイルと環境変数の設定で起動
  petlens serve

  # ポートを指定して起動
  petlens serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			// コマンドラインオプションで設定を上書き
			if host != "" {
				a.config.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.config.Server.Port = port
			}
			if err := a.config.Validate(); err != nil {
				return err
			}

			var poller *notify.Poller
			if a.config.Notify.Enabled {
				poller = notify.NewPoller(a.client, a.config.Notify.Interval, a.logger)
			}

			srv := server.New(a.config, server.Deps{
				Session:  a.session,
				Tracker:  a.tracker,
				Saver:    a.saver,
				API:      a.client,
				Notifier: poller,
				Logger:   a.logger,
			})
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "サーバーのホスト (デフォルト: 設定値)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "サーバーのポート (デフォルト: 設定値)")

	return cmd
}
