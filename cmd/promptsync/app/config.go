package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/service"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the sync configuration",
	}
	cmd.AddCommand(newConfigGetCmd(c), newConfigSetCmd(c), newConfigApplyCmd(c), newConfigPathCmd(c))
	return cmd
}

func newConfigPathCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), c.configPath())
			return err
		},
	}
}

func newConfigGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(svc service.SyncService) error {
				return writeYAML(cmd.OutOrStdout(), svc.GetConfig(cmd.Context()))
			})
		},
	}
}

func newConfigApplyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply -f FILE",
		Short: "Replace the configuration with a YAML document",
		Long: `Replace the whole configuration with the given YAML document ("-" reads
standard input). Settings left out take their defaults; secrets given as
` + service.RedactedSecret + ` keep their stored values.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			data, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			cfg := config.Default()
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("invalid configuration document: %w", err)
			}
			return c.withApp(cmd, func(svc service.SyncService) error {
				saved, err := svc.SetConfig(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), saved)
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "Configuration document (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readDocument(cmd *cobra.Command, file string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file) // #nosec G304 -- path given by the user
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration document: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("configuration document is empty")
	}
	return data, nil
}

func writeYAML(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// configFlags are the settings `config set` can change
type configFlags struct {
	enabled     bool
	autoSync    bool
	interval    int
	provider    string
	syncRoot    string
	deviceName  string
	useKeyring  bool
	davURL      string
	davUser     string
	davPassword bool
	icloudPath  string
	s3Endpoint  string
	s3Bucket    string
	s3Prefix    string
	s3Region    string
	s3KeyID     string
	s3Secret    bool
	s3UseSSL    bool
}

func newConfigSetCmd(c *cli) *cobra.Command {
	f := &configFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change individual settings",
		Example: `  promptsync config set --enabled --provider webdav \
    --webdav-url https://dav.example.com/remote.php/dav/files/alice \
    --webdav-username alice --webdav-password-stdin --use-keyring
  promptsync config set --provider icloud --interval 30`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(svc service.SyncService) error {
				cfg := svc.GetConfig(cmd.Context())
				if err := f.apply(cmd, cfg); err != nil {
					return err
				}
				if _, err := svc.SetConfig(cmd.Context(), cfg); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved to "+c.configPath())
				return err
			})
		},
	}

	fs := cmd.Flags()
	fs.BoolVar(&f.enabled, "enabled", false, "Enable sync")
	fs.BoolVar(&f.autoSync, "auto-sync", true, "Sync automatically on a timer and on local changes")
	fs.IntVar(&f.interval, "interval", config.DefaultSyncIntervalMinutes, "Minutes between automatic syncs")
	fs.StringVar(&f.provider, "provider", "", "Remote store (webdav, icloud or s3)")
	fs.StringVar(&f.syncRoot, "sync-root", "", "Directory under the remote that holds the sync files")
	fs.StringVar(&f.deviceName, "device-name", "", "Name shown for this device")
	fs.BoolVar(&f.useKeyring, "use-keyring", false, "Keep secrets in the OS keyring")
	fs.StringVar(&f.davURL, "webdav-url", "", "WebDAV server URL")
	fs.StringVar(&f.davUser, "webdav-username", "", "WebDAV username")
	fs.BoolVar(&f.davPassword, "webdav-password-stdin", false, "Read the WebDAV password from standard input")
	fs.StringVar(&f.icloudPath, "icloud-path", "", "Folder used instead of the platform's iCloud Drive")
	fs.StringVar(&f.s3Endpoint, "s3-endpoint", "", "S3 endpoint (host[:port])")
	fs.StringVar(&f.s3Bucket, "s3-bucket", "", "S3 bucket")
	fs.StringVar(&f.s3Prefix, "s3-prefix", "", "Key prefix inside the bucket")
	fs.StringVar(&f.s3Region, "s3-region", "", "S3 region")
	fs.StringVar(&f.s3KeyID, "s3-access-key-id", "", "S3 access key id")
	fs.BoolVar(&f.s3Secret, "s3-secret-stdin", false, "Read the S3 secret access key from standard input")
	fs.BoolVar(&f.s3UseSSL, "s3-use-ssl", true, "Connect to S3 over TLS")
	return cmd
}

// apply copies the flags the user set onto cfg
func (f *configFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	changed := false
	cmd.LocalFlags().VisitAll(func(flag *pflag.Flag) {
		changed = changed || fs.Changed(flag.Name)
	})
	if !changed {
		return fmt.Errorf("no settings given, see --help")
	}

	if fs.Changed("enabled") {
		cfg.Enabled = f.enabled
	}
	if fs.Changed("auto-sync") {
		cfg.AutoSync = f.autoSync
	}
	if fs.Changed("interval") {
		cfg.SyncIntervalMinutes = f.interval
	}
	if fs.Changed("provider") {
		cfg.Provider = config.Provider(f.provider)
	}
	if fs.Changed("sync-root") {
		cfg.SyncRoot = f.syncRoot
	}
	if fs.Changed("device-name") {
		cfg.DeviceName = f.deviceName
	}

	if anyChanged(fs, "webdav-url", "webdav-username", "webdav-password-stdin") ||
		(fs.Changed("use-keyring") && cfg.Provider == config.ProviderWebDAV) {
		if cfg.WebDAV == nil {
			cfg.WebDAV = &config.WebDAVConfig{}
		}
		setString(fs, "webdav-url", &cfg.WebDAV.ServerURL, f.davURL)
		setString(fs, "webdav-username", &cfg.WebDAV.Username, f.davUser)
		if fs.Changed("use-keyring") {
			cfg.WebDAV.UseKeyring = f.useKeyring
		}
		if f.davPassword {
			secret, err := readSecret(cmd, "WebDAV password: ")
			if err != nil {
				return err
			}
			cfg.WebDAV.Password = secret
		}
	}

	if fs.Changed("icloud-path") {
		if cfg.ICloud == nil {
			cfg.ICloud = &config.FolderConfig{}
		}
		cfg.ICloud.CustomPath = f.icloudPath
	}

	if anyChanged(fs, "s3-endpoint", "s3-bucket", "s3-prefix", "s3-region", "s3-access-key-id", "s3-secret-stdin", "s3-use-ssl") ||
		(fs.Changed("use-keyring") && cfg.Provider == config.ProviderS3) {
		if cfg.S3 == nil {
			cfg.S3 = &config.S3Config{UseSSL: true}
		}
		setString(fs, "s3-endpoint", &cfg.S3.Endpoint, f.s3Endpoint)
		setString(fs, "s3-bucket", &cfg.S3.Bucket, f.s3Bucket)
		setString(fs, "s3-prefix", &cfg.S3.Prefix, f.s3Prefix)
		setString(fs, "s3-region", &cfg.S3.Region, f.s3Region)
		setString(fs, "s3-access-key-id", &cfg.S3.AccessKeyID, f.s3KeyID)
		if fs.Changed("s3-use-ssl") {
			cfg.S3.UseSSL = f.s3UseSSL
		}
		if fs.Changed("use-keyring") {
			cfg.S3.UseKeyring = f.useKeyring
		}
		if f.s3Secret {
			secret, err := readSecret(cmd, "S3 secret access key: ")
			if err != nil {
				return err
			}
			cfg.S3.SecretAccessKey = secret
		}
	}
	return nil
}

func anyChanged(fs *pflag.FlagSet, names ...string) bool {
	for _, name := range names {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

func setString(fs *pflag.FlagSet, name string, dst *string, value string) {
	if fs.Changed(name) {
		*dst = value
	}
}

// readSecret prompts without echo on a terminal and reads one line otherwise
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return validateSecret(string(secret))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return validateSecret(line)
}

func validateSecret(secret string) (string, error) {
	secret = strings.TrimRight(secret, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	return secret, nil
}
