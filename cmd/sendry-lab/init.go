package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/sendry-lab/internal/notify"
)

var (
	initDataDir  string
	initOutput   string
	initAPIToken string
	initSMTPAddr string
	initSMTPFrom string
	initDKIM     bool
	initDKIMDir  string
	initSMSURL   string
	initMetrics  bool
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Sendry Lab configuration",
	Long: `Interactive wizard to create a Sendry Lab configuration file.

This command helps you set up Sendry Lab by:
  1. Creating a configuration file with a hashed API token
  2. Configuring the SMTP relay and SMS gateway used for alerts
  3. Optionally generating a DKIM key for alert mail

Examples:
  # Interactive mode - prompts for missing values
  sendry-lab init

  # Non-interactive
  sendry-lab init --smtp-addr relay.example.com:587 --smtp-from lab@example.com --dkim -o lab.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/sendry-lab", "Data directory for the databases and keys")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initAPIToken, "api-token", "", "API token (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initSMTPAddr, "smtp-addr", "", "SMTP relay host:port for email alerts")
	initCmd.Flags().StringVar(&initSMTPFrom, "smtp-from", "", "Sender address of email alerts")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate a DKIM key for alert mail")
	initCmd.Flags().StringVar(&initDKIMDir, "dkim-dir", "", "DKIM key directory (default: <data-dir>/dkim)")
	initCmd.Flags().StringVar(&initSMSURL, "sms-url", "", "SMS gateway URL for SMS alerts")
	initCmd.Flags().BoolVar(&initMetrics, "metrics", true, "Enable the Prometheus metrics endpoint")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Sendry Lab Configuration Wizard")
	fmt.Println("===============================")
	fmt.Println()

	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initSMTPAddr == "" {
		initSMTPAddr = prompt(reader, "SMTP relay for email alerts (host:port, empty to disable)", "")
	}
	if initSMTPAddr != "" && initSMTPFrom == "" {
		initSMTPFrom = prompt(reader, "Alert sender address", "")
		if initSMTPFrom == "" {
			return fmt.Errorf("sender address is required when an SMTP relay is set")
		}
	}

	if initSMTPAddr != "" && !initDKIM {
		answer := prompt(reader, "Generate DKIM key for alert mail? [y/N]", "n")
		initDKIM = strings.ToLower(answer) == "y" || strings.ToLower(answer) == "yes"
	}
	if initDKIMDir == "" {
		initDKIMDir = filepath.Join(initDataDir, "dkim")
	}

	if initSMSURL == "" {
		initSMSURL = prompt(reader, "SMS gateway URL (empty to disable)", "")
	}

	if initAPIToken == "" {
		initAPIToken = generateRandomString(32)
		fmt.Printf("  Generated API token: %s\n", initAPIToken)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(initAPIToken), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash API token: %w", err)
	}

	var dkimKeyPath, dkimDNSRecord string
	domain := senderDomain(initSMTPFrom)
	if initDKIM && domain != "" {
		dkimKeyPath = filepath.Join(initDKIMDir, domain+".key")
		dkimDNSRecord, err = notify.GenerateDKIMKey(dkimKeyPath)
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}
		fmt.Printf("  DKIM key saved to: %s\n", dkimKeyPath)
	}

	config := generateConfig(string(hash), dkimKeyPath)
	if err := os.WriteFile(initOutput, []byte(config), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	if dkimDNSRecord != "" {
		fmt.Println("DKIM Record to Add")
		fmt.Println("==================")
		fmt.Printf("   Name:  lab._domainkey.%s\n", domain)
		fmt.Printf("   Type:  TXT\n")
		fmt.Printf("   Value: %s\n", dkimDNSRecord)
		fmt.Println()
	}

	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// senderDomain returns the domain part of an address
func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return ""
}

func generateConfig(tokenHash, dkimKeyPath string) string {
	smtpSection := `  # smtp:
  #   addr: "relay.example.com:587"
  #   from: "lab@example.com"`
	if initSMTPAddr != "" {
		dkim := "    dkim:\n      enabled: false"
		if dkimKeyPath != "" {
			dkim = fmt.Sprintf(`    dkim:
      enabled: true
      domain: "%s"
      selector: "lab"
      key_file: "%s"`, senderDomain(initSMTPFrom), dkimKeyPath)
		}
		smtpSection = fmt.Sprintf(`  smtp:
    addr: "%s"
    from: "%s"
    # username and password may be set via SENDRY_LAB_SMTP_USERNAME / SENDRY_LAB_SMTP_PASSWORD
%s`, initSMTPAddr, initSMTPFrom, dkim)
	}

	smsSection := `  # sms:
  #   gateway_url: "https://sms.example.com/send"
  #   sender: "SALON"`
	if initSMSURL != "" {
		smsSection = fmt.Sprintf(`  sms:
    gateway_url: "%s"
    # api key may be set via SENDRY_LAB_SMS_API_KEY`, initSMSURL)
	}

	return fmt.Sprintf(`# Sendry Lab configuration
# Generated by: sendry-lab init

server:
  listen_addr: ":8080"
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s

api:
  token_hash: "%s"

database:
  path: "%s/lab.db"

actionlog:
  path: "%s/actions.db"
  retention: 2160h  # 90 days

metrics:
  enabled: %t
  listen_addr: ":9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"

scheduler:
  winner_interval: 1h
  optimization_interval: 24h
  optimization_window: "30d"
  cleanup_interval: 1h
  recommendation_ttl: 168h

notify:
%s
%s

logging:
  level: "info"
  format: "json"
`,
		tokenHash,
		initDataDir,
		initDataDir,
		initMetrics,
		smtpSection,
		smsSection,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Validate the configuration:")
	fmt.Printf("   sendry-lab config validate -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("2. Start the engine:")
	fmt.Printf("   sendry-lab serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("3. Enable automation for a salon:")
	fmt.Println("   curl -X PUT http://localhost:8080/api/v1/salons/<salon_id>/config \\")
	fmt.Printf("     -H \"Authorization: Bearer %s\" \\\n", initAPIToken)
	fmt.Println("     -H \"Content-Type: application/json\" \\")
	fmt.Println(`     -d '{"enable_variant_generation": true, "enable_performance_monitoring": true}'`)
	fmt.Println()
	fmt.Println("Credentials")
	fmt.Println("-----------")
	fmt.Printf("API Token: %s\n", initAPIToken)
	fmt.Println()
}
