package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Create, inspect and unlock accounts",
}

var (
	createEmail         string
	createName          string
	createNationalID    string
	createVerified      bool
	createPasswordStdin bool
	createDeviceStdin   bool
	createDeviceOS      string
	createDeviceType    string
	createDeviceBrowser string
)

const (
	passwordEnv    = "SENTINEL_ACCOUNT_PASSWORD"
	fingerprintEnv = "SENTINEL_DEVICE_FINGERPRINT"
)

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision an ACTIVE account, optionally binding its first device",
	Long: `Provision an account. The password is read from the first line of stdin
when --password-stdin is set, otherwise from SENTINEL_ACCOUNT_PASSWORD.

A device is bound when a fingerprint is supplied, either on the next line of
stdin with --device-fingerprint-stdin or from SENTINEL_DEVICE_FINGERPRINT.
With both stdin flags the password comes first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())
		password, err := readPassword(in)
		if err != nil {
			return err
		}
		fingerprint, err := readFingerprint(in)
		if err != nil {
			return err
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.services(cmd.Context())
		if err != nil {
			return err
		}

		account, err := svc.Accounts.CreateAccount(cmd.Context(), services.CreateAccountInput{
			Email:         createEmail,
			NationalID:    createNationalID,
			Name:          createName,
			Password:      password,
			EmailVerified: createVerified,
		})
		if err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "account %s created\n", account.ID)

		if fingerprint != "" {
			device, err := svc.Devices.RegisterForUser(cmd.Context(), account.ID, models.DeviceInfo{
				Fingerprint: fingerprint,
				OS:          createDeviceOS,
				DeviceType:  createDeviceType,
				Browser:     createDeviceBrowser,
			})
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device %s linked\n", device.ID)
		}
		return nil
	},
}

var accountUnlockCmd = &cobra.Command{
	Use:   "unlock <email|national-id>",
	Short: "Reactivate a locked account and notify its holder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.services(cmd.Context())
		if err != nil {
			return err
		}

		account, err := svc.Accounts.Lookup(cmd.Context(), args[0])
		if err != nil {
			return describe(err)
		}
		if err := svc.Accounts.UnlockAccount(cmd.Context(), account.ID); err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "account %s unlocked\n", account.ID)
		return nil
	},
}

var showLimit int

var accountShowCmd = &cobra.Command{
	Use:   "show <email|national-id>",
	Short: "Print an account with its device and recent authentication history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.services(cmd.Context())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		account, err := svc.Accounts.Lookup(ctx, args[0])
		if err != nil {
			return describe(err)
		}
		attempts, err := svc.Accounts.RecentAttempts(ctx, account.ID, showLimit)
		if err != nil {
			return err
		}
		history, err := svc.Devices.History(ctx, account.ID, showLimit)
		if err != nil {
			return err
		}

		device, err := svc.Devices.CurrentDevice(ctx, account.ID)
		if err != nil && !errors.Is(err, models.ErrDeviceRequired) {
			return err
		}

		printAccount(cmd.OutOrStdout(), account, device, attempts, history)
		return nil
	},
}

func printAccount(out io.Writer, account *models.Account, device *models.Device, attempts []*models.AuthAttempt, history []*models.DeviceLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "id\t%s\n", account.ID)
	fmt.Fprintf(w, "email\t%s\n", account.Email)
	fmt.Fprintf(w, "status\t%s\n", account.Status)
	fmt.Fprintf(w, "email verified\t%t\n", account.EmailVerified)
	if device != nil {
		fmt.Fprintf(w, "device\t%s %s/%s/%s\n", device.ID, device.DeviceType, device.OS, device.Browser)
	} else {
		fmt.Fprintf(w, "device\tnone\n")
	}

	fmt.Fprintf(w, "\nATTEMPTED AT\tREASON\tIP\n")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.AttemptedAt.UTC().Format(time.RFC3339), a.Reason, a.IPAddress)
	}

	fmt.Fprintf(w, "\nDEVICE EVENT\tACTION\tOS\n")
	for _, l := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.CreatedAt.UTC().Format(time.RFC3339), l.Action, l.Snapshot.OS)
	}
}

// readPassword takes the password from stdin or the environment so it never
// appears in shell history
func readPassword(in *bufio.Reader) (string, error) {
	if createPasswordStdin {
		return readLine(in, "password")
	}
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	return "", errors.New("no password given: use --password-stdin or " + passwordEnv)
}

// readFingerprint is readPassword for the optional device fingerprint. An
// empty result means no device is bound.
func readFingerprint(in *bufio.Reader) (string, error) {
	if createDeviceStdin {
		fp, err := readLine(in, "device fingerprint")
		if err != nil {
			return "", err
		}
		if fp = strings.TrimSpace(fp); fp == "" {
			return "", errors.New("--device-fingerprint-stdin set but no fingerprint on stdin")
		}
		return fp, nil
	}
	return strings.TrimSpace(os.Getenv(fingerprintEnv)), nil
}

func readLine(in *bufio.Reader, what string) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", what, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe turns reason-coded failures into operator-readable errors
func describe(err error) error {
	if reason, ok := models.ReasonOf(err); ok {
		return fmt.Errorf("%s: %s", reason, reason.Message())
	}
	if errors.Is(err, models.ErrConflict) {
		return errors.New("an account with this email or national id already exists")
	}
	return err
}

func init() {
	f := accountCreateCmd.Flags()
	f.StringVar(&createEmail, "email", "", "account email address (required)")
	f.StringVar(&createName, "name", "", "account holder name (required)")
	f.StringVar(&createNationalID, "national-id", "", "national id as <digits>-<check>")
	f.BoolVar(&createVerified, "email-verified", false, "mark the email address as verified")
	f.BoolVar(&createPasswordStdin, "password-stdin", false, "read the password from stdin")
	f.BoolVar(&createDeviceStdin, "device-fingerprint-stdin", false, "read a device fingerprint to bind from stdin")
	f.StringVar(&createDeviceOS, "device-os", "", "OS of the bound device")
	f.StringVar(&createDeviceType, "device-type", "", "type of the bound device")
	f.StringVar(&createDeviceBrowser, "device-browser", "", "browser of the bound device")
	_ = accountCreateCmd.MarkFlagRequired("email")
	_ = accountCreateCmd.MarkFlagRequired("name")

	accountShowCmd.Flags().IntVar(&showLimit, "limit", 20, "number of attempts and device events to show")

	accountCmd.AddCommand(accountCreateCmd, accountUnlockCmd, accountShowCmd)
	rootCmd.AddCommand(accountCmd)
}
