package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crashvault/crashvault/internal/svc"
)

var (
	serviceConfigPath string
	serviceName       string
	serviceUser       string
	forceInstall      bool
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the CrashVault system service",
		Long: `Install, control, and manage CrashVault as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  sudo crashvault service install --config /etc/crashvault/server.yaml
  sudo crashvault service start
  sudo crashvault service status`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install CrashVault as a system service",
		Long: `Install CrashVault as a system service that starts automatically at boot.

Requires administrator/root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVarP(&serviceConfigPath, "config", "c", "", "Path to configuration file")
	installCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name (default: crashvault)")
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the CrashVault system service",
		RunE:  runServiceUninstall,
	}
	uninstallCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(uninstallCmd)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the CrashVault service",
		RunE:  runServiceStart,
	}
	startCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the CrashVault service",
		RunE:  runServiceStop,
	}
	stopCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(stopCmd)

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the CrashVault service",
		RunE:  runServiceRestart,
	}
	restartCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(restartCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show CrashVault service status",
		RunE:  runServiceStatus,
	}
	statusCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(statusCmd)

	return serviceCmd
}

func serviceConfig() *svc.ServiceConfig {
	cfg := &svc.ServiceConfig{
		Name:        serviceName,
		DisplayName: svc.DefaultDisplayName(),
		Description: svc.DefaultDescription(),
		ConfigPath:  serviceConfigPath,
		UserName:    serviceUser,
	}
	if cfg.Name == "" {
		cfg.Name = svc.DefaultServiceName()
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = svc.DefaultConfigPath()
	}
	return cfg
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceInstall(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := serviceConfig()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file %s not found; write it before installing", cfg.ConfigPath)
	}

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}
	fmt.Printf("Service %q installed.\nStart it with: sudo crashvault service start\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceUninstall(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := serviceConfig()
	if err := svc.Uninstall(cfg); err != nil {
		return err
	}
	fmt.Printf("Service %q removed.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceStart(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()
	if err := svc.Start(cfg); err != nil {
		return err
	}
	fmt.Printf("Service %q started.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceStop(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()
	if err := svc.Stop(cfg); err != nil {
		return err
	}
	fmt.Printf("Service %q stopped.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceRestart(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()
	if err := svc.Restart(cfg); err != nil {
		return err
	}
	fmt.Printf("Service %q restarted.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceStatus(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()
	status, err := svc.Status(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Service %q: %s\n", cfg.Name, svc.StatusString(status))
	return nil
}

// runAsService runs the server under the platform service manager.
func runAsService() {
	setupLogging()

	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().Str("config", configPath).Msg("starting as service")

	cfg := &svc.ServiceConfig{
		Name:        svc.DefaultServiceName(),
		DisplayName: svc.DefaultDisplayName(),
		Description: svc.DefaultDescription(),
		ConfigPath:  configPath,
	}

	prg := &svc.Program{
		ConfigPath: configPath,
		RunServe:   runServe,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service exited")
	}
}
