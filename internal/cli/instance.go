package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/registry"
	"github.com/ppiankov/pgokache/internal/reporter"
	"github.com/ppiankov/pgokache/internal/service"
)

// PasswordEnv supplies an instance password when --password-stdin is not set.
const PasswordEnv = "PGOKACHE_PASSWORD"

func newInstanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Register and manage monitored databases",
	}
	cmd.AddCommand(newInstanceAddCmd(a), newInstanceListCmd(a), newInstanceSetCmd(a))
	return cmd
}

func newInstanceAddCmd(a *app) *cobra.Command {
	var (
		req           registry.CreateRequest
		passwordStdin bool
		format        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a database; the password is read from stdin or " + PasswordEnv,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			req.Password, err = readPassword(cmd.InOrStdin(), passwordStdin)
			if err != nil {
				return err
			}
			return a.withService(cmd, func(svc *service.Service) error {
				inst, err := svc.CreateInstance(cmd.Context(), req)
				if err != nil {
					return err
				}
				return reporter.WriteInstances(cmd.OutOrStdout(), []model.Instance{inst}, f)
			})
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Host, "host", "", "database host")
	cmd.Flags().IntVar(&req.Port, "port", 5432, "database port")
	cmd.Flags().StringVar(&req.DBName, "dbname", "", "database name")
	cmd.Flags().StringVar(&req.User, "user", "", "role used for monitoring")
	cmd.Flags().StringVar(&req.SSLMode, "ssl-mode", "prefer", "disable, allow, prefer, require, verify-ca or verify-full")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newInstanceListCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			return a.withService(cmd, func(svc *service.Service) error {
				insts, err := svc.ListInstances(cmd.Context())
				if err != nil {
					return err
				}
				return reporter.WriteInstances(cmd.OutOrStdout(), insts, f)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newInstanceSetCmd(a *app) *cobra.Command {
	var (
		name          string
		passwordStdin bool
		format        string
	)

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Rename a database or rotate its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			var req registry.PatchRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if passwordStdin {
				pw, err := readPassword(cmd.InOrStdin(), true)
				if err != nil {
					return err
				}
				req.Password = &pw
			}
			if req.Name == nil && req.Password == nil {
				return fmt.Errorf("nothing to change: pass --name or --password-stdin")
			}
			return a.withService(cmd, func(svc *service.Service) error {
				inst, err := svc.PatchInstance(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				return reporter.WriteInstances(cmd.OutOrStdout(), []model.Instance{inst}, f)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the new password from the first line of stdin")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func readPassword(in io.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		return os.Getenv(PasswordEnv), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
