package domain

import (
	"errors"
	"fmt"
)

// Классы ошибок. Конкретные ошибки ниже оборачивают один из них,
// поэтому errors.Is(err, ErrNotFound) работает для любой "не найдено".
var (
	// ErrValidation — некорректный или неполный ввод, отклоняется до изменения состояния.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound — запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrConflict — операция противоречит текущему состоянию сущности.
	ErrConflict = errors.New("conflict")
	// ErrInsufficient — на складе недостаточно товара.
	ErrInsufficient = errors.New("insufficient resource")
	// ErrExternal — отказ шины событий или соседнего сервиса.
	ErrExternal = errors.New("external failure")
	// ErrCriticalInconsistency — платёж проведён, а склад не подтвердил резерв.
	ErrCriticalInconsistency = errors.New("critical inconsistency")
)

var (
	ErrItemsRequired         = classified(ErrValidation, "order must contain at least one item")
	ErrItemQuantityInvalid   = classified(ErrValidation, "item quantity must be greater than zero")
	ErrItemPriceInvalid      = classified(ErrValidation, "item price must be non-negative")
	ErrItemProductRequired   = classified(ErrValidation, "item product_id is required")
	ErrItemNotInOrder        = classified(ErrValidation, "item does not belong to order")
	ErrOrderIDInvalid        = classified(ErrValidation, "order id must be greater than zero")
	ErrPaymentIDInvalid      = classified(ErrValidation, "payment id must be greater than zero")
	ErrAmountInvalid         = classified(ErrValidation, "amount must be greater than zero")
	ErrPaymentMethodRequired = classified(ErrValidation, "payment method is required")
	ErrRefundReasonRequired  = classified(ErrValidation, "refund reason is required")
	ErrStatusInvalid         = classified(ErrValidation, "status is invalid")
	ErrProductNameRequired   = classified(ErrValidation, "product name is required")
	ErrStockNegative         = classified(ErrValidation, "quantity in stock must be non-negative")

	ErrOrderNotFound       = classified(ErrNotFound, "order not found")
	ErrPaymentNotFound     = classified(ErrNotFound, "payment not found")
	ErrProductNotFound     = classified(ErrNotFound, "product not found")
	ErrReservationNotFound = classified(ErrNotFound, "reservation not found")

	ErrPaymentExists       = classified(ErrConflict, "payment already exists for order")
	ErrPaymentCompleted    = classified(ErrConflict, "payment already completed")
	ErrInvalidTransition   = classified(ErrConflict, "invalid state transition")
	ErrReservationTerminal = classified(ErrConflict, "reservation is in a terminal state")
	ErrAlreadyRefunded     = classified(ErrConflict, "payment already refunded")
	ErrPartialRefund       = classified(ErrConflict, "refund amount must equal payment amount")
	ErrRefundWindowExpired = classified(ErrConflict, "refund window expired")
	ErrAmountMismatch      = classified(ErrConflict, "payment amount does not match order total")
	ErrNoReservations      = classified(ErrConflict, "order has no stock reservations")

	ErrInsufficientStock = classified(ErrInsufficient, "insufficient stock")
	ErrStockUnavailable  = classified(ErrInsufficient, "stock unavailable")

	ErrPublishFailed = classified(ErrExternal, "event publish failed")
	ErrRemoteCall    = classified(ErrExternal, "remote call failed")
)

// classifiedError связывает конкретную ошибку с её классом.
type classifiedError struct {
	class error
	msg   string
}

func classified(class error, msg string) error {
	return &classifiedError{class: class, msg: msg}
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.class }

// IsValidation сообщает, относится ли ошибка к ошибкам ввода.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound сообщает, что сущность не найдена.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict сообщает о конфликте состояния.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInsufficient сообщает о нехватке товара.
func IsInsufficient(err error) bool { return errors.Is(err, ErrInsufficient) }

// IsExternal сообщает об отказе внешней зависимости.
func IsExternal(err error) bool { return errors.Is(err, ErrExternal) }

// IsCritical сообщает о состоянии, требующем ручного вмешательства.
func IsCritical(err error) bool { return errors.Is(err, ErrCriticalInconsistency) }

var codes = map[string]error{
	"items_required":          ErrItemsRequired,
	"item_quantity_invalid":   ErrItemQuantityInvalid,
	"item_price_invalid":      ErrItemPriceInvalid,
	"item_product_required":   ErrItemProductRequired,
	"item_not_in_order":       ErrItemNotInOrder,
	"order_id_invalid":        ErrOrderIDInvalid,
	"payment_id_invalid":      ErrPaymentIDInvalid,
	"amount_invalid":          ErrAmountInvalid,
	"payment_method_required": ErrPaymentMethodRequired,
	"refund_reason_required":  ErrRefundReasonRequired,
	"status_invalid":          ErrStatusInvalid,
	"product_name_required":   ErrProductNameRequired,
	"stock_negative":          ErrStockNegative,
	"order_not_found":         ErrOrderNotFound,
	"payment_not_found":       ErrPaymentNotFound,
	"product_not_found":       ErrProductNotFound,
	"reservation_not_found":   ErrReservationNotFound,
	"payment_exists":          ErrPaymentExists,
	"payment_completed":       ErrPaymentCompleted,
	"invalid_transition":      ErrInvalidTransition,
	"reservation_terminal":    ErrReservationTerminal,
	"already_refunded":        ErrAlreadyRefunded,
	"partial_refund":          ErrPartialRefund,
	"refund_window_expired":   ErrRefundWindowExpired,
	"amount_mismatch":         ErrAmountMismatch,
	"no_reservations":         ErrNoReservations,
	"insufficient_stock":      ErrInsufficientStock,
	"stock_unavailable":       ErrStockUnavailable,
	"publish_failed":          ErrPublishFailed,
	"remote_call_failed":      ErrRemoteCall,
	"validation":              ErrValidation,
	"not_found":               ErrNotFound,
	"conflict":                ErrConflict,
	"insufficient":            ErrInsufficient,
	"external":                ErrExternal,
	"critical":                ErrCriticalInconsistency,
}

// ErrorCode возвращает стабильный машинный код ошибки для HTTP-ответов.
// Пустая строка означает неклассифицированную ошибку.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for code, known := range codes {
		if known == err {
			return code
		}
	}
	// Сначала ищем конкретную ошибку в цепочке, потом класс.
	for code, known := range codes {
		if _, specific := known.(*classifiedError); specific && errors.Is(err, known) {
			return code
		}
	}
	for _, class := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInsufficient, ErrExternal, ErrCriticalInconsistency} {
		if errors.Is(err, class) {
			return codeOf(class)
		}
	}
	return ""
}

func codeOf(target error) string {
	for code, known := range codes {
		if known == target {
			return code
		}
	}
	return ""
}

// KnownCode сообщает, есть ли для кода типизированная ошибка.
func KnownCode(code string) bool {
	_, ok := codes[code]
	return ok
}

// ErrorFromCode восстанавливает типизированную ошибку по коду из ответа соседнего сервиса.
func ErrorFromCode(code, message string) error {
	known, ok := codes[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRemoteCall, message)
	}
	if message == "" || message == known.Error() {
		return known
	}
	return fmt.Errorf("%w: %s", known, message)
}
