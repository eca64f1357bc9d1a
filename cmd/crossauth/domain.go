package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

type domainOp string

const (
	domainAdd     domainOp = "add"
	domainVerify  domainOp = "verify"
	domainPrimary domainOp = "primary"
	domainDelete  domainOp = "delete"
)

var domainShort = map[domainOp]string{
	domainAdd:     "Agrega un dominio custom sin verificar",
	domainVerify:  "Marca un dominio como verificado",
	domainPrimary: "Promueve un dominio verificado a primario",
	domainDelete:  "Borra un dominio custom que no sea primario",
}

func newDomainCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "domain", Short: "Ciclo de vida de dominios de un tenant"}
	for _, op := range []domainOp{domainAdd, domainVerify, domainPrimary, domainDelete} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(op) + " <slug> <host>",
			Short: domainShort[op],
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := openAdmin(cmd, opts)
				if err != nil {
					return err
				}
				defer c.Close()
				if err := runDomainOp(cmd.Context(), c.Directory, op, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ok\n", op, repository.NormalizeHost(args[1]))
				return nil
			},
		})
	}
	return cmd
}

func runDomainOp(ctx context.Context, dir repository.Directory, op domainOp, slug, host string) error {
	t, err := dir.FindTenantBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("tenant %s: %w", slug, err)
	}
	host = repository.NormalizeHost(host)
	switch op {
	case domainAdd:
		_, err = dir.AddDomain(ctx, t.ID, host)
	case domainVerify:
		err = dir.VerifyDomain(ctx, t.ID, host)
	case domainPrimary:
		err = dir.SetPrimaryDomain(ctx, t.ID, host)
	case domainDelete:
		err = dir.DeleteDomain(ctx, t.ID, host)
	default:
		return fmt.Errorf("operación desconocida %q", op)
	}
	if err != nil {
		return fmt.Errorf("domain %s %s: %w", op, host, err)
	}
	return nil
}
