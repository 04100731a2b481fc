package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/honeypot/banner"
)

var bannersPorts []int

var bannersCmd = &cobra.Command{
	Use:   "banners",
	Short: "Show the banner sent on each port",
	Long: `Display the greeting written to clients right after they connect.
Ports without a dedicated banner receive a bare CRLF.`,
	Example: `  honeypot banners
  honeypot banners --port 3306 --port 8080`,
	GroupID: "info",
	RunE:    runBanners,
}

func init() {
	bannersCmd.Flags().IntSliceVar(&bannersPorts, "port", nil, "Ports to show (default: all with a banner)")
}

func runBanners(cmd *cobra.Command, args []string) error {
	ports := bannersPorts
	if len(ports) == 0 {
		ports = banner.DefaultPorts()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-16s %6s  %s\n", "Port", "Bytes", "Banner")
	fmt.Fprintln(out, strings.Repeat("-", 70))
	for _, p := range ports {
		b := banner.For(p)
		fmt.Fprintf(out, "%-16s %6d  %s\n", banner.FormatPort(p), len(b), strconv.Quote(string(b)))
	}
	return nil
}
