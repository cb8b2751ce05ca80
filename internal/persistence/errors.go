package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound сессии с таким идентификатором нет в хранилище
	ErrNotFound = errors.New("session not found")
	// ErrNotFinalized сохранять можно только финализированные сессии
	ErrNotFinalized = errors.New("session is not finalized")
)

// StorageError ошибка операции хранилища. In-memory состояние при ней не меняется.
type StorageError struct {
	Op  string // save | load | list
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MalformedSessionError документ сессии не удалось разобрать даже с подстановкой значений по умолчанию
type MalformedSessionError struct {
	Err error
}

func (e *MalformedSessionError) Error() string {
	return fmt.Sprintf("malformed session document: %v", e.Err)
}

func (e *MalformedSessionError) Unwrap() error { return e.Err }

func storageErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, ID: id, Err: err}
}
