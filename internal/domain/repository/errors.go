package repository

import "errors"

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica una violación de unicidad (email duplicado, dominio ya tomado).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica datos de entrada inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyConsumed indica que un registro single-use ya fue consumido.
	ErrAlreadyConsumed = errors.New("already consumed")

	// ErrExpired indica que el registro existe pero venció.
	ErrExpired = errors.New("expired")

	// ErrPrimaryDomain indica una operación que dejaría al tenant sin dominio primario.
	ErrPrimaryDomain = errors.New("tenant must keep exactly one primary domain")

	// ErrSubdomainUndeletable indica un intento de borrar el subdominio del tenant.
	ErrSubdomainUndeletable = errors.New("subdomain domains cannot be deleted")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
