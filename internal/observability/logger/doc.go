// Package logger provides the process-wide zap logger and request-scoped loggers.
//
// Init se llama una vez en main con la configuración cargada; el resto del
// código usa From(ctx), que devuelve el logger inyectado por el middleware HTTP
// (con request_id, tenant, etc.) o el singleton si no hay ninguno.
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("otp"))
//	log.Info("code issued", logger.TenantID(t.ID), logger.EmailMasked(email))
//
// Los emails nunca se loguean en claro; usar EmailMasked.
package logger
