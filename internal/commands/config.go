package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE:  runInitConfig,
}

var configForce bool

func init() {
	initConfigCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config.yaml")

	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if shown.Security.JWTSecret != "" {
		shown.Security.JWTSecret = "********"
	}

	data, err := yaml.Marshal(shown)
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

const defaultConfig = `# chainmgr configuration

server:
  host: 0.0.0.0
  port: 5001
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false

database:
  driver: sqlite3
  path: ./chainmgr.db
  busy_timeout: 5s

ssh:
  default_user: root
  default_port: 22
  private_key_path: $HOME/.ssh/id_rsa
  connect_timeout: 5s
  command_timeout: 5m
  known_hosts_path: ""

deploy:
  nodes_root: ./NODES_ROOT
  archive_root: ./NODES_ROOT_TMP
  max_nodes_per_host: 4
  sign_check_timeout: 2s
  docker_daemon_port: 3000
  image_repository: fiscoorg/fisco-webase
  remote_delete_dir: delete-tmp
  local_ips: []

engine:
  workers: 8
  item_timeout: 10m
  dial_retries: 3

logging:
  level: info
  format: json
  output: stdout

security:
  rate_limit: 100
  allowed_origins:
    - "*"
  auth_enabled: false
  jwt_secret: change-me-in-production
  jwt_expiration: 24h
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat("config.yaml"); err == nil && !configForce {
		return fmt.Errorf("config.yaml already exists (use --force to overwrite)")
	}

	if err := os.WriteFile("config.yaml", []byte(defaultConfig), 0o600); err != nil {
		return err
	}

	fmt.Println("✓ Created config.yaml")
	return nil
}
