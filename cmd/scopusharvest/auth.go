package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"scopusharvest/pkg/auth"
	"scopusharvest/pkg/ui"
)

var instToken bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Scopus API credentials",
	Long: `Manage stored Scopus API credentials.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file, keyed by SCOPUSHARVEST_PASSPHRASE or a generated passphrase file
  - Environment variables SCOPUS_API_KEY and SCOPUS_INST_TOKEN (read only)

Never share your API key or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store an API key",
	Long: `Store a Scopus API key under a profile name.

The key is read from the terminal without echo. Keys are issued at
https://dev.elsevier.com/apikey/manage.`,
	Example: `  # Store the default profile
  scopusharvest auth login

  # Store a second key with an institutional token
  scopusharvest auth login library --inst-token`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

// authShowCmd represents the auth show command
var authShowCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"list"},
	Short:   "Show stored profiles",
	Long:    `List stored profiles with masked credentials.`,
	Args:    cobra.NoArgs,
	RunE:    runAuthShow,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(authShowCmd)

	loginCmd.Flags().BoolVar(&instToken, "inst-token", false, "also prompt for an institutional token")
}

func profileArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	return auth.DefaultProfile
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	name := profileArg(args)
	reader := bufio.NewReader(os.Stdin)

	if existing, _ := manager.Retrieve(name); existing != nil && !existing.LastModified.IsZero() {
		fmt.Printf("Profile '%s' already exists. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Scopus API key: ")
	key, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	if key == "" {
		return fmt.Errorf("%w: API key is empty", auth.ErrInvalidCredentials)
	}

	account := &auth.Account{
		Profile:      name,
		APIKey:       key,
		LastModified: time.Now(),
	}
	if instToken {
		fmt.Print("Institutional token: ")
		token, err := readSecret(reader)
		if err != nil {
			return fmt.Errorf("failed to read institutional token: %w", err)
		}
		account.InstToken = token
	}

	storeName, err := manager.Store(account)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Credentials saved: %s", name))
	ui.PrintInfo("Store", storeName)
	ui.PrintInfo("API key", auth.MaskString(key))
	if name != auth.DefaultProfile {
		fmt.Printf("\nUse it with: scopusharvest harvest --profile %s\n", name)
	}
	return nil
}

// readSecret reads a line without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := profileArg(args)
	if err := manager.Delete(name); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	ui.PrintSuccess("Profile removed: " + name)
	return nil
}

func runAuthShow(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored profiles", "Use 'scopusharvest auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Profiles")
	ui.PrintInfo("Stores", strings.Join(manager.Stores(), ", "))
	fmt.Println()
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. Profile: %s\n", i+1, sanitized.Profile)
		fmt.Printf("   API key: %s\n", sanitized.APIKey)
		if sanitized.InstToken != "" {
			fmt.Printf("   Inst token: %s\n", sanitized.InstToken)
		}
		if sanitized.LastModified.IsZero() {
			fmt.Println("   Source: environment")
		} else {
			fmt.Printf("   Last modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}
