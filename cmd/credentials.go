package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lance13c/portalpilot/internal/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage sealed target credentials",
}

var (
	sealUsername string
	sealClientID string
	sealTokenURL string
	sealScopes   []string
	sealSecret   string
)

var credentialsSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Encrypt a credential bundle for a target definition",
	Long: `Seal prompts for the secret (password, API key or client secret) and prints
the encrypted bundle to paste into the target's "credentials" field. The
master key comes from PORTALPILOT_MASTER_KEY or is prompted for.

Examples:
  portalpilot credentials seal --username agent
  portalpilot credentials seal --secret api_key
  portalpilot credentials seal --secret client_secret --client-id pp --token-url https://idp/token`,
	Args: cobra.NoArgs,
	RunE: runCredentialsSeal,
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsSealCmd)

	f := credentialsSealCmd.Flags()
	f.StringVar(&sealUsername, "username", "", "login user name for form targets")
	f.StringVar(&sealClientID, "client-id", "", "OAuth2 client id for delegated targets")
	f.StringVar(&sealTokenURL, "token-url", "", "OAuth2 token endpoint for delegated targets")
	f.StringSliceVar(&sealScopes, "scope", nil, "OAuth2 scopes (repeatable)")
	f.StringVar(&sealSecret, "secret", "password", "which secret to prompt for: password, api_key or client_secret")
}

func runCredentialsSeal(cmd *cobra.Command, args []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	in := bufio.NewReader(cmd.InOrStdin())
	prompt := cmd.ErrOrStderr()

	master := cfg.Storage.MasterKey
	if master == "" {
		if master, err = readSecret(in, prompt, "Master key: "); err != nil {
			return err
		}
	}
	if master == "" {
		return crypto.ErrNoMasterKey
	}

	c := crypto.Credentials{
		Username: sealUsername,
		ClientID: sealClientID,
		TokenURL: sealTokenURL,
		Scopes:   sealScopes,
	}
	secret, err := readSecret(in, prompt, strings.ReplaceAll(sealSecret, "_", " ")+": ")
	if err != nil {
		return err
	}
	switch sealSecret {
	case "password":
		c.Password = secret
	case "api_key":
		c.APIKey = secret
	case "client_secret":
		c.ClientSecret = secret
	default:
		return fmt.Errorf("unknown secret kind %q", sealSecret)
	}

	sealed, err := crypto.NewVault(master).Seal(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "credentials: %s\n", sealed)
	return nil
}

// readSecret reads without echo from a terminal, or one line from in
// when stdin is piped
func readSecret(in *bufio.Reader, prompt io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.TrimSuffix(label, ": "), err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
