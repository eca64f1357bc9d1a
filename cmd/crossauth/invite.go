package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/crossauth/internal/invite"
)

func newInviteCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "invite", Short: "Invitaciones a un tenant"}

	var (
		email, role, inviter string
		ttl                  time.Duration
	)
	create := &cobra.Command{
		Use:   "create <slug>",
		Short: "Crea una invitación pendiente y envía el link por email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openAdmin(cmd, opts)
			if err != nil {
				return err
			}
			defer c.Close()
			t, err := c.Directory.FindTenantBySlug(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("tenant %s: %w", args[0], err)
			}
			inv, link, err := c.Invites.Create(cmd.Context(), invite.CreateRequest{
				Tenant:      t,
				InviterName: inviter,
				Email:       email,
				Role:        role,
				TTL:         ttl,
			})
			if inv != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "id=%s expires=%s\nlink=%s\n", inv.ID, inv.ExpiresAt.Format(time.RFC3339), link)
			}
			return err
		},
	}
	f := create.Flags()
	f.StringVar(&email, "email", "", "email del invitado")
	f.StringVar(&role, "role", "member", "rol asignado al aceptar (admin|member|user)")
	f.StringVar(&inviter, "inviter", "", "nombre de quien invita (aparece en el email)")
	f.DurationVar(&ttl, "ttl", invite.DefaultTTL, "vigencia de la invitación")
	_ = create.MarkFlagRequired("email")
	cmd.AddCommand(create)
	return cmd
}
