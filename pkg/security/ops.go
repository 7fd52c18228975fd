package security

import (
	"context"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/settings"
)

// Operation names gated by the allowlist.
const (
	OpWrite        = "write"
	OpDelete       = "delete"
	OpRename       = "rename"
	OpOpenInFolder = "open_in_folder"
	OpResetIndex   = "reset_index"
)

var opSettingKey = map[string]string{
	OpDelete:       settings.KeyAllowDelete,
	OpRename:       settings.KeyAllowRename,
	OpOpenInFolder: settings.KeyAllowOpenInFolder,
	OpResetIndex:   settings.KeyAllowResetIndex,
}

// RequireOperationEnabled gates destructive operations behind explicit
// opt-ins. Safe mode blocks all writes unless allow_write is set;
// destructive ops additionally need their own toggle.
func RequireOperationEnabled(ctx context.Context, store *settings.Store, op string) error {
	safeMode := store.GetBool(ctx, settings.KeySafeMode, false)
	allowWrite := store.GetBool(ctx, settings.KeyAllowWrite, false)
	if safeMode && !allowWrite {
		return errcode.New(errcode.Forbidden, "safe mode blocks write operations")
	}

	key, destructive := opSettingKey[op]
	if !destructive {
		return nil
	}
	if !store.GetBool(ctx, key, false) {
		return errcode.Newf(errcode.Forbidden, "operation %s is not enabled", op)
	}
	return nil
}
