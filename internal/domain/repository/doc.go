// Package repository define las entidades de dominio y el contrato Directory.
//
// Directory es la única puerta al almacenamiento relacional (tenants, dominios,
// usuarios, miembros, invitaciones, códigos OTP y tokens de transferencia).
// Las implementaciones viven en internal/store/memory e internal/store/pg.
//
// Convenciones:
//   - Context siempre es el primer parámetro.
//   - Emails se comparan en minúsculas; el llamador normaliza con NormalizeEmail.
//   - Las operaciones single-use (Consume*, MarkInvitationAccepted) son atómicas:
//     un solo llamador concurrente obtiene el registro.
//   - RunInTx propaga la transacción por el contexto; las llamadas hechas con ese
//     contexto participan de ella.
package repository
