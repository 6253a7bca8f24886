package main

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Scan the local subnet for devices",
	Long: `Probe every address of the first interface's /24, read the ARP
table and enrich each device with its hostname and vendor.`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print devices as JSON")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc := newService()
	defer svc.Close()

	devices, err := svc.ScanDevices(ctx)
	if err != nil {
		return err
	}

	if devicesJSON {
		out, err := sonic.ConfigStd.MarshalIndent(devices, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Devices (%d)", len(devices))))
	if len(devices) == 0 {
		fmt.Println(warnStyle.Render("No devices found. The ARP table may need elevated privileges."))
		return nil
	}
	fmt.Println(deviceTable(devices))
	return nil
}
