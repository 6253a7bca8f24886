package main

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/user/lanscope/internal/util"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show public, host and interface information",
	Long: `Collect one network snapshot: public IP and location, local IPv4
interfaces, host statistics and the devices on the first interface's
subnet.`,
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print the snapshot as JSON")
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc := newService()
	defer svc.Close()

	info, err := svc.NetworkInfo(ctx)
	if err != nil {
		return err
	}

	if infoJSON {
		out, err := sonic.ConfigStd.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	pub := info.Public
	fmt.Println(titleStyle.Render("Public"))
	printField("IP:", pub.IP)
	printField("Location:", joinNonEmpty(pub.City, pub.Region, pub.Country))
	printField("Provider:", orDash(pub.Org))
	printField("Timezone:", orDash(pub.Timezone))

	sys := info.System
	fmt.Println()
	fmt.Println(titleStyle.Render("Host"))
	printField("Hostname:", sys.Hostname)
	printField("Platform:", sys.Platform+"/"+sys.Arch)
	printField("CPU:", fmt.Sprintf("%s (%d cores)", orDash(sys.CPUModel), sys.CPUCores))
	printField("Memory:", fmt.Sprintf("%s free of %s",
		util.FormatBytes(sys.FreeMemoryBytes), util.FormatBytes(sys.TotalMemoryBytes)))

	fmt.Println()
	fmt.Println(titleStyle.Render("Interfaces"))
	if len(info.Interfaces) == 0 {
		fmt.Println(warnStyle.Render("  no IPv4 interfaces"))
	}
	for _, i := range info.Interfaces {
		printField(i.Name+":", fmt.Sprintf("%s/%s %s", i.IP, i.Netmask, i.MAC))
	}

	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Devices (%d)", len(info.Devices))))
	if len(info.Devices) > 0 {
		fmt.Println(deviceTable(info.Devices))
	}

	return nil
}
