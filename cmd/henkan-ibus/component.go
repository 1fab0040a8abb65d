//go:build linux

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"henkan/internal/ime"
)

var componentCmd = &cobra.Command{
	Use:   "component",
	Short: "Manage the IBus component registration",
}

var componentInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the IBus component file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := componentConfig(cmd)
		if err != nil {
			return err
		}
		dir, err := componentDir(cmd)
		if err != nil {
			return err
		}
		path, err := ime.InstallComponent(dir, cc)
		if err != nil {
			return fmt.Errorf("install component: %w", err)
		}
		fmt.Printf("Installed %s\n", path)

		if restart, _ := cmd.Flags().GetBool("restart"); restart {
			if err := ime.RestartIBus(); err != nil {
				return err
			}
			fmt.Println("IBus restarted")
		} else {
			fmt.Println("Run 'ibus restart' to load the engine.")
		}
		return nil
	},
}

var componentUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the IBus component file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := componentDir(cmd)
		if err != nil {
			return err
		}
		if err := ime.UninstallComponent(dir); err != nil {
			return fmt.Errorf("uninstall component: %w", err)
		}
		fmt.Printf("Removed %s\n", filepath.Join(dir, ime.ComponentFileName))
		return nil
	},
}

var componentPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the IBus component file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := componentConfig(cmd)
		if err != nil {
			return err
		}
		data, err := ime.ComponentXML(cc)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func componentConfig(cmd *cobra.Command) (ime.ComponentConfig, error) {
	execPath, _ := cmd.Flags().GetString("exec")
	if execPath == "" {
		self, err := os.Executable()
		if err != nil {
			return ime.ComponentConfig{}, err
		}
		execPath = self
	}
	configPath, _ := cmd.Flags().GetString("config")
	icon, _ := cmd.Flags().GetString("icon")
	return ime.ComponentConfig{
		ExecPath:   execPath,
		ConfigPath: configPath,
		Version:    version,
		IconPath:   icon,
	}, nil
}

func componentDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir, nil
	}
	return ime.UserComponentDir()
}

func init() {
	rootCmd.AddCommand(componentCmd)
	componentCmd.AddCommand(componentInstallCmd, componentUninstallCmd, componentPrintCmd)

	componentCmd.PersistentFlags().String("dir", "", "Component directory (default ~/.local/share/ibus/component)")
	componentCmd.PersistentFlags().String("exec", "", "Engine binary path (default this executable)")
	componentCmd.PersistentFlags().String("icon", "", "Engine icon path")
	componentInstallCmd.Flags().Bool("restart", false, "Restart IBus after installing")
}
