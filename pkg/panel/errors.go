package panel

import "errors"

// Error kinds for panel lifecycle and download authorization. Callers match
// them with errors.Is; user-facing replies are derived from the kind, never
// from the wrapped chain.
var (
	ErrConfigUnavailable = errors.New("product configuration unavailable")
	ErrPermissionDenied  = errors.New("missing send or embed permission in channel")
	ErrAlreadyExists     = errors.New("panel already deployed in channel")
	ErrEmptyPanel        = errors.New("panel has no enabled products")
	ErrPanelNotFound     = errors.New("panel not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrProductDisabled   = errors.New("product disabled")
	ErrFileUnavailable   = errors.New("product file unavailable")
	ErrRoleDenied        = errors.New("required role missing")
	ErrBusy              = errors.New("operation already in flight for this panel")
	ErrMessageNotFound   = errors.New("panel message not found")
)

// KindOf maps an error to the stable name recorded in audit rows and metrics.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigUnavailable):
		return "ConfigUnavailable"
	case errors.Is(err, ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrEmptyPanel):
		return "EmptyPanel"
	case errors.Is(err, ErrPanelNotFound):
		return "PanelNotFound"
	case errors.Is(err, ErrProductNotFound):
		return "ProductNotFound"
	case errors.Is(err, ErrProductDisabled):
		return "ProductDisabled"
	case errors.Is(err, ErrFileUnavailable):
		return "FileUnavailable"
	case errors.Is(err, ErrRoleDenied):
		return "RoleDenied"
	case errors.Is(err, ErrBusy):
		return "Busy"
	case errors.Is(err, ErrMessageNotFound):
		return "MessageNotFound"
	default:
		return "Internal"
	}
}
