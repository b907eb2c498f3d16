// Package identity manages the opaque user ID that ties entries to a device.
// It is not authentication: anyone holding the ID acts as that user, which
// is how a sync code moves a journal between devices.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/util"
)

var (
	ErrEmptyCode = errors.New("sync code is empty")
	ErrSameCode  = errors.New("sync code is already in use")
)

const suffixLength = 9

// Generate builds a new user ID from the given instant.
func Generate(now time.Time) string {
	return "user_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + util.RandomBase36(suffixLength)
}

// UserID returns the stored user ID, creating and storing one on first use.
func UserID(store kv.Store) (string, error) {
	return userID(store, time.Now)
}

func userID(store kv.Store, now func() time.Time) (string, error) {
	if id, ok := store.Get(kv.KeyUserID); ok && id != "" {
		return id, nil
	}
	id := Generate(now())
	if err := store.Set(kv.KeyUserID, id); err != nil {
		return id, fmt.Errorf("store user id: %w", err)
	}
	return id, nil
}

// ApplySyncCode replaces the stored user ID with code from another device.
func ApplySyncCode(store kv.Store, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrEmptyCode
	}
	if current, ok := store.Get(kv.KeyUserID); ok && current == code {
		return "", ErrSameCode
	}
	if err := store.Set(kv.KeyUserID, code); err != nil {
		return "", fmt.Errorf("store sync code: %w", err)
	}
	return code, nil
}
