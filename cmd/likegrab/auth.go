package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"likegrab/pkg/auth"
)

var quickGuide bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credential profiles",
	Long: `Manage credential profiles for the resolution strategies.

A profile holds the x.com session cookies (auth_token and ct0), a paid API
bearer token, or both. Profiles are stored in:
  - the system keychain (when available)
  - an AES-GCM encrypted file (PBKDF2 key derivation)

LIKEGRAB_AUTH_TOKEN, LIKEGRAB_CSRF_TOKEN and LIKEGRAB_BEARER_TOKEN form a
read-only "env" profile that takes precedence as the default.`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a credential profile",
	Long: `Store a credential profile. Secrets are read without echo.

Leave the cookie prompts empty to store a bearer-only profile, or the bearer
prompt empty to store a cookie-only profile.`,
	Example: `  likegrab auth login personal
  likegrab auth login --quick`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <name>",
	Short: "Remove a stored credential profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential profiles",
	Long:  `List stored credential profiles with secrets masked.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	loginCmd.Flags().BoolVar(&quickGuide, "quick", false, "show the short cookie guide")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	if quickGuide {
		auth.ShowQuickExtractGuide(out)
	} else {
		auth.ShowCookieExtractionGuide(out)
	}
	fmt.Fprintln(out)

	var name string
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	} else {
		fmt.Fprint(out, "Profile name: ")
		name, err = readLine(reader)
		if err != nil {
			return fmt.Errorf("failed to read profile name: %w", err)
		}
	}
	if name == "" {
		return fmt.Errorf("profile name is required")
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Fprintf(out, "Profile '%s' already exists. Replace it? (y/N): ", name)
		answer, _ := readLine(reader)
		if !strings.HasPrefix(strings.ToLower(answer), "y") {
			return nil
		}
	}

	fmt.Fprintln(out, "Secrets are hidden as you type.")
	account := &auth.Account{Name: name}
	prompts := []struct {
		label string
		dst   *string
	}{
		{"auth_token cookie", &account.AuthToken},
		{"ct0 cookie", &account.CSRFToken},
		{"paid API bearer token (optional)", &account.BearerToken},
	}
	for _, p := range prompts {
		fmt.Fprintf(out, "%s: ", p.label)
		v, err := readSecret(reader, out)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p.label, err)
		}
		*p.dst = v
	}
	fmt.Fprint(out, "User agent (Enter for default): ")
	account.UserAgent, _ = readLine(reader)

	if err := manager.Store(account); err != nil {
		return err
	}

	printer.Success("Profile saved: " + name)
	masked := auth.SanitizeAccount(account)
	printer.Info("Session cookies", yesNo(account.HasSession()))
	printer.Info("Bearer token", yesNo(account.HasBearer()))
	if masked.AuthToken != "" {
		printer.Info("auth_token", masked.AuthToken)
	}
	fmt.Fprintf(out, "\nUse it with: likegrab run likes.json --account %s\n", name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	printer.Success("Profile removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	if len(accounts) > 0 {
		printer.Highlight("Stored profiles")
	}
	writeAccounts(cmd.OutOrStdout(), accounts)
	return nil
}

func writeAccounts(w io.Writer, accounts []*auth.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "No stored profiles. Use 'likegrab auth login' to add one.")
		return
	}
	for i, account := range accounts {
		s := auth.SanitizeAccount(account)
		fmt.Fprintf(w, "%d. %s\n", i+1, s.Name)
		if account.HasSession() {
			fmt.Fprintf(w, "   auth_token: %s\n", s.AuthToken)
			fmt.Fprintf(w, "   ct0: %s\n", s.CSRFToken)
		}
		if account.HasBearer() {
			fmt.Fprintf(w, "   bearer: %s\n", s.BearerToken)
		}
		if s.UserAgent != "" {
			fmt.Fprintf(w, "   user agent: %s\n", s.UserAgent)
		}
		if !s.LastModified.IsZero() {
			fmt.Fprintf(w, "   modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo when stdin is a terminal
func readSecret(r *bufio.Reader, out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err == nil {
			return strings.TrimSpace(string(b)), nil
		}
	}
	return readLine(r)
}
