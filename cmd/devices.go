package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "利用可能なカメラを一覧表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			devices, err := a.session.Devices(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "カメラが見つかりません")
				return nil
			}
			for _, d := range devices {
				resolutions := make([]string, 0, len(d.Resolutions))
				for _, r := range d.Resolutions {
					resolutions = append(resolutions, fmt.Sprintf("%dx%d", r.Width, r.Height))
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", d.Device, d.Name,
					strings.Join(d.Formats, ","), strings.Join(resolutions, ","))
			}
			return nil
		},
	}
}
